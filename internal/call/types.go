package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// State is the controller's session state.
type State string

const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateIncoming  State = "incoming"
	StateConnected State = "connected"
	// StateEnded is published once when a session terminates, immediately
	// followed by StateIdle.
	StateEnded State = "ended"
)

// Role is fixed when the session is created.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Signaler is the only surface the call package needs from the signaling
// transport. The concrete mailbox adapter lives in internal/app, the only
// place that imports both packages.
type Signaler interface {
	// Subscribe opens the mailbox for identity. Envelopes are delivered in the
	// order the transport received them.
	Subscribe(identity string) (<-chan Envelope, error)
	// Send is fire-and-forget: a nil error does not mean the remote got it.
	Send(ctx context.Context, to string, env Envelope) error
	Unsubscribe()
}

// HistoryStatus is the status written to the call history.
type HistoryStatus string

const (
	HistoryActive   HistoryStatus = "active"
	HistoryEnded    HistoryStatus = "ended"
	HistoryRejected HistoryStatus = "rejected"
)

// HistoryRecorder persists call lifecycle events. It is best-effort telemetry:
// the controller never rolls back session state on a failed write.
type HistoryRecorder interface {
	Create(ctx context.Context, caller, receiver string, startedAt time.Time) (string, error)
	UpdateStatus(ctx context.Context, id string, status HistoryStatus, endedAt *time.Time, durationSeconds *int) error
}

// Session is an immutable snapshot of the controller's current call.
type Session struct {
	ID          string     `json:"id,omitempty"`
	Key         string     `json:"key,omitempty"`
	Local       string     `json:"local"`
	Remote      string     `json:"remote,omitempty"`
	ContextID   string     `json:"context_id,omitempty"`
	Role        Role       `json:"role,omitempty"`
	State       State      `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`

	AudioEnabled bool `json:"audio_enabled"`
	VideoEnabled bool `json:"video_enabled"`
}

// Update is delivered to subscribers on every observable change. Err carries
// asynchronous failures such as ErrNegotiationFailed.
type Update struct {
	Session Session `json:"session"`
	Err     error   `json:"-"`
}

// TrackKind aliases pion's codec type so tracks can be handed to the
// adapter without conversion.
type TrackKind = webrtc.RTPCodecType

const (
	KindAudio = webrtc.RTPCodecTypeAudio
	KindVideo = webrtc.RTPCodecTypeVideo
)

// RemoteTrack is the handle surfaced for rendering inbound media.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}
