package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Track is a local capture track. It is owned by MediaController; the
// adapter only borrows it for the lifetime of a session.
type Track interface {
	ID() string
	Kind() TrackKind
	DeviceID() string
	// Enabled reports the enablement flag. A disabled track keeps running
	// but sends no media.
	Enabled() bool
	SetEnabled(on bool)
	// Local returns the pion track the adapter attaches to a sender.
	Local() webrtc.TrackLocal
	Stop() error
}

// Device describes one capture device.
type Device struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Kind  TrackKind `json:"kind"`
}

// Capturer is the platform capture primitive.
type Capturer interface {
	Devices() ([]Device, error)
	Open(ctx context.Context, dev Device) (Track, error)
}

// Constraints select what Acquire opens.
type Constraints struct {
	Audio bool
	Video bool
	// Fallback lets a failed camera degrade to audio-only and a failed
	// microphone to video-only instead of failing the whole acquisition.
	Fallback bool
}

// addRecvOnlyTransceivers adds a recvonly transceiver for every kind in
// kinds so offers always carry an m-line with ICE credentials for media we
// want to receive but do not send.
func addRecvOnlyTransceivers(key string, pc *webrtc.PeerConnection, kinds ...TrackKind) {
	for _, k := range kinds {
		if _, err := pc.AddTransceiverFromKind(k, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Warnf("CALL [%s]: AddTransceiver(%s) error: %v", key, k, err)
		}
	}
}
