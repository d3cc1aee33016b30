//go:build linux && cgo

package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const rtpMTU = 1200

// deviceCapturer opens cameras and microphones through pion/mediadevices
// (V4L2 + malgo on Linux) and encodes them to VP8/Opus.
type deviceCapturer struct {
	codecs   *mediadevices.CodecSelector
	streamID string
}

// NewDeviceCapturer returns the hardware Capturer for this platform.
// videoBitRate is in bits per second; 0 keeps the encoder default.
func NewDeviceCapturer(videoBitRate int) (Capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	if videoBitRate > 0 {
		vpxParams.BitRate = videoBitRate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &deviceCapturer{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		streamID: "goopcall-" + uuid.NewString()[:8],
	}, nil
}

func (d *deviceCapturer) Devices() ([]Device, error) {
	var out []Device
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.Kind {
		case mediadevices.VideoInput:
			out = append(out, Device{ID: info.DeviceID, Label: info.Label, Kind: KindVideo})
		case mediadevices.AudioInput:
			out = append(out, Device{ID: info.DeviceID, Label: info.Label, Kind: KindAudio})
		}
	}
	return out, nil
}

// Open captures dev. GetUserMedia cannot be interrupted, so a cancelled ctx
// returns immediately and the late track is closed when it arrives.
func (d *deviceCapturer) Open(ctx context.Context, dev Device) (Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.codecs}
	mime := webrtc.MimeTypeOpus
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

	switch dev.Kind {
	case KindVideo:
		mime = webrtc.MimeTypeVP8
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(dev.ID)
			// Raw formats only; some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	case KindAudio:
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(dev.ID)
		}
	default:
		return nil, fmt.Errorf("unsupported kind %s", dev.Kind)
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		done <- result{s, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	tracks := res.stream.GetTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%s %q produced no track", dev.Kind, dev.Label)
	}
	src := tracks[0]
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}

	id := dev.Kind.String() + "-" + uuid.NewString()[:8]
	local, err := webrtc.NewTrackLocalStaticRTP(capability, id, d.streamID)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	reader, err := src.NewRTPReader(mime, uint32(0), rtpMTU)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%s %q encoder: %w", dev.Kind, dev.Label, err)
	}

	t := &captureTrack{
		id:     id,
		dev:    dev,
		src:    src,
		local:  local,
		reader: reader,
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)
	src.OnEnded(func(err error) {
		if err != nil {
			log.Warnf("CALL: local %s track ended: %v", dev.Kind, err)
		}
	})
	go t.pump()

	log.Infof("CALL: opened %s %q", dev.Kind, dev.Label)
	return t, nil
}

// captureTrack pumps encoded RTP from a mediadevices track into a static
// pion track. Disabling drops packets at the pump; the device keeps running.
type captureTrack struct {
	id     string
	dev    Device
	src    mediadevices.Track
	local  *webrtc.TrackLocalStaticRTP
	reader mediadevices.RTPReadCloser

	enabled  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func (t *captureTrack) pump() {
	defer close(t.done)
	for {
		var pkts []*rtp.Packet
		pkts, release, err := t.reader.Read()
		if err != nil {
			return
		}
		if t.enabled.Load() {
			for _, p := range pkts {
				if err := t.local.WriteRTP(p); err != nil {
					break
				}
			}
		}
		release()
	}
}

func (t *captureTrack) ID() string               { return t.id }
func (t *captureTrack) Kind() TrackKind          { return t.dev.Kind }
func (t *captureTrack) DeviceID() string         { return t.dev.ID }
func (t *captureTrack) Enabled() bool            { return t.enabled.Load() }
func (t *captureTrack) SetEnabled(on bool)       { t.enabled.Store(on) }
func (t *captureTrack) Local() webrtc.TrackLocal { return t.local }

func (t *captureTrack) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		_ = t.reader.Close()
		err = t.src.Close()
		<-t.done
	})
	return err
}
