package call

import "errors"

var (
	// ErrSessionBusy is returned when start/accept conflicts with an existing
	// session or an acquisition still in flight.
	ErrSessionBusy = errors.New("call: session busy")

	// ErrNotReady is returned by PeerConnection.AddCandidate before a remote
	// description has been applied. The controller buffers on this signal.
	ErrNotReady = errors.New("call: remote description not applied")

	// ErrMediaAcquisitionFailed wraps hardware and permission failures.
	ErrMediaAcquisitionFailed = errors.New("call: media acquisition failed")

	// ErrNoAlternateDevice is returned when fewer than two cameras exist.
	ErrNoAlternateDevice = errors.New("call: no alternate video device")

	// ErrNegotiationFailed is reported asynchronously when the native
	// connection fails or disconnects.
	ErrNegotiationFailed = errors.New("call: negotiation failed")

	// ErrHistoryWriteFailed is logged, never returned to callers.
	ErrHistoryWriteFailed = errors.New("call: history write failed")

	// ErrNoIncomingCall is returned by accept/reject outside the Incoming state.
	ErrNoIncomingCall = errors.New("call: no incoming call")

	// ErrSessionEnded is returned to an operation whose session was ended
	// while it was still in flight.
	ErrSessionEnded = errors.New("call: session ended")

	// ErrClosed is returned after Controller.Close.
	ErrClosed = errors.New("call: controller closed")

	// ErrInvalidIdentity is returned by Start for an empty or self identity.
	ErrInvalidIdentity = errors.New("call: invalid remote identity")

	// ErrInvalidEnvelope is returned by DecodeEnvelope.
	ErrInvalidEnvelope = errors.New("call: invalid envelope")
)
