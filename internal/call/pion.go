package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// PionConfig tunes the pion-backed PeerConnection.
type PionConfig struct {
	ICEServers []webrtc.ICEServer

	// ICE timeouts. Zero values fall back to 30s / 120s / 2s: a brief relay
	// or NAT hiccup should not end the call.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// LoggerFactory receives pion's internal logs. Nil uses pion's default.
	LoggerFactory logging.LoggerFactory
}

// DefaultICEServers is used when PionConfig.ICEServers is empty.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// NewPionFactory returns a PeerFactory backed by pion/webrtc.
func NewPionFactory(cfg PionConfig) PeerFactory {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers
	}
	if cfg.DisconnectedTimeout == 0 {
		cfg.DisconnectedTimeout = 30 * time.Second
	}
	if cfg.FailedTimeout == 0 {
		cfg.FailedTimeout = 120 * time.Second
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 2 * time.Second
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	return func(emit func(PeerEvent)) (PeerConnection, error) {
		return newPionPeer(cfg, emit)
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender

	closeOnce sync.Once
	closeErr  error
}

func newPionPeer(cfg PionConfig, emit func(PeerEvent)) (*pionPeer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: cfg.LoggerFactory}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	p := &pionPeer{pc: pc, senders: make(map[string]*webrtc.RTPSender)}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		init := c.ToJSON()
		emit(PeerEvent{Kind: PeerLocalCandidate, Candidate: &init})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if cs, ok := connectionStateFrom(s); ok {
			emit(PeerEvent{Kind: PeerConnectionState, State: cs})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			// Ask for a keyframe so the remote picture shows up immediately.
			if err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			}); err != nil {
				log.Debugf("CALL: PLI write: %v", err)
			}
		}
		emit(PeerEvent{Kind: PeerRemoteTrack, Track: track})
	})

	return p, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	// Kinds we do not send still need an m-line so the answerer can send them.
	p.mu.Lock()
	have := make(map[TrackKind]bool)
	for _, s := range p.senders {
		if t := s.Track(); t != nil {
			have[t.Kind()] = true
		}
	}
	p.mu.Unlock()
	var missing []TrackKind
	for _, k := range []TrackKind{KindVideo, KindAudio} {
		if !have[k] {
			missing = append(missing, k)
		}
	}
	addRecvOnlyTransceivers("offer", p.pc, missing...)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (p *pionPeer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if p.pc.RemoteDescription() == nil {
		return webrtc.SessionDescription{}, ErrNotReady
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (p *pionPeer) ApplyRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	return nil
}

func (p *pionPeer) AddCandidate(c webrtc.ICECandidateInit) error {
	if p.pc.RemoteDescription() == nil {
		return ErrNotReady
	}
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) AttachLocalTrack(t Track) error {
	sender, err := p.pc.AddTrack(t.Local())
	if err != nil {
		return fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	p.mu.Lock()
	p.senders[t.ID()] = sender
	p.mu.Unlock()

	// Interceptors (NACK, TWCC) only see RTCP that is read.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) ReplaceLocalTrack(old, next Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sender, ok := p.senders[old.ID()]
	if !ok {
		return fmt.Errorf("no sender for track %s", old.ID())
	}
	if err := sender.ReplaceTrack(next.Local()); err != nil {
		return fmt.Errorf("replace %s track: %w", old.Kind(), err)
	}
	delete(p.senders, old.ID())
	p.senders[next.ID()] = sender
	return nil
}

func (p *pionPeer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
