package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// ConnectionState mirrors the native peer-connection states the controller
// cares about.
type ConnectionState string

const (
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnFailed       ConnectionState = "failed"
	ConnClosed       ConnectionState = "closed"
)

// PeerEventKind discriminates PeerEvent.
type PeerEventKind int

const (
	PeerConnectionState PeerEventKind = iota
	PeerRemoteTrack
	PeerLocalCandidate
)

// PeerEvent is emitted by a PeerConnection. Exactly one of the payload
// fields is set, matching Kind.
type PeerEvent struct {
	Kind      PeerEventKind
	State     ConnectionState
	Track     RemoteTrack
	Candidate *webrtc.ICECandidateInit
}

// PeerConnection is the thin capability wrapper around the native
// peer-connection primitive. It keeps no ordering state of its own:
// candidate buffering belongs to the controller.
type PeerConnection interface {
	// CreateOffer builds an offer and installs it as the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer answers the applied remote offer and installs it locally.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	ApplyRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	// AddCandidate fails fast with ErrNotReady before ApplyRemoteDescription.
	AddCandidate(c webrtc.ICECandidateInit) error
	AttachLocalTrack(t Track) error
	// ReplaceLocalTrack swaps the track on its existing sender so the
	// negotiated media line survives a device change.
	ReplaceLocalTrack(old, next Track) error
	Close() error
}

// PeerFactory creates a PeerConnection whose events are handed to emit.
// emit never blocks for long; it may be called from any goroutine.
type PeerFactory func(emit func(PeerEvent)) (PeerConnection, error)

func connectionStateFrom(s webrtc.PeerConnectionState) (ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed, true
	case webrtc.PeerConnectionStateClosed:
		return ConnClosed, true
	}
	return "", false
}
