package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// session is the controller's mutable view of the current call. It is
// owned by the controller loop goroutine; nothing else reads or writes it.
type session struct {
	gen       uint64
	key       string
	remote    string
	contextID string
	role      Role
	state     State

	// pending is set while Start is still acquiring media and building the
	// offer. The session is reserved but observably Idle.
	pending bool
	// accepting is set while Accept is in flight.
	accepting bool
	// claimed means an acquisition was launched for this session, so media
	// belongs to it and is released at teardown.
	claimed bool

	startedAt   time.Time
	connectedAt *time.Time

	offer         *webrtc.SessionDescription
	peer          PeerConnection
	remoteApplied bool
	applying      bool
	buffer        CandidateBuffer

	// Local candidates are held until our offer/answer is queued so the
	// remote never sees a candidate before the description it belongs to.
	descSent  bool
	heldLocal []webrtc.ICECandidateInit

	remoteTracks []RemoteTrack

	hist       *historyEntry
	histID     string
	histActive bool

	ctx       context.Context
	cancel    context.CancelFunc
	ringTimer *time.Timer
}

func newSession(parent context.Context, gen uint64, role Role, remote, key, contextID string) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		gen:       gen,
		key:       key,
		remote:    remote,
		contextID: contextID,
		role:      role,
		state:     StateIdle,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *session) observable() State {
	if s.pending {
		return StateIdle
	}
	return s.state
}

func (s *session) caller(self string) string {
	if s.role == RoleCaller {
		return self
	}
	return s.remote
}

func (s *session) receiver(self string) string {
	if s.role == RoleCaller {
		return s.remote
	}
	return self
}

// duration returns the connected duration in whole seconds, or nil if the
// session never connected.
func (s *session) duration(now time.Time) *int {
	if s.connectedAt == nil {
		return nil
	}
	d := int(now.Sub(*s.connectedAt).Seconds())
	if d < 0 {
		d = 0
	}
	return &d
}

func (s *session) stopRing() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
