// Package call implements a two-party WebRTC call session controller.
// Coupling to the rest of goopcall is via the Signaler and HistoryRecorder
// interfaces only.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopcall/internal/util"
)

var log = logging.Logger("call")

const (
	opsBuffer    = 64
	subBuffer    = 16
	sendTimeout  = 5 * time.Second
	closeTimeout = 5 * time.Second
	recentEvents = 256
)

// Options configures a Controller.
type Options struct {
	// Self is the local identity; the signaling mailbox is opened for it.
	Self     string
	Signaler Signaler
	Media    *MediaController
	NewPeer  PeerFactory
	// History may be nil.
	History HistoryRecorder
	// Constraints for every acquisition. The zero value means audio + video.
	Constraints Constraints
	// RingTimeout ends an unanswered outbound call. Zero disables it.
	RingTimeout time.Duration
}

// Event is one line of the controller's debug trail.
type Event struct {
	At   time.Time `json:"at"`
	Key  string    `json:"key,omitempty"`
	Text string    `json:"text"`
}

// Controller owns the single call session of one local identity.
//
// All session state lives on the loop goroutine. Public methods post
// closures to it and wait for a reply; envelopes, peer events and the
// results of long-running tasks are folded into the same loop, so each
// source is processed in the order it was produced.
type Controller struct {
	self    string
	sig     Signaler
	media   *MediaController
	newPeer PeerFactory
	cons    Constraints
	ring    time.Duration

	ops       chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	outbox  *serialQueue
	history *historyWorker
	recent  *util.RingBuffer[Event]

	// loop-owned
	cur    *session
	gen    uint64
	closed bool

	snapMu sync.RWMutex
	snap   Session
	tracks []RemoteTrack

	subMu sync.Mutex
	subs  map[chan Update]struct{}
}

// NewController opens the signaling mailbox for opts.Self and starts the
// controller loop.
func NewController(opts Options) (*Controller, error) {
	switch {
	case opts.Self == "":
		return nil, errors.New("call: Self is required")
	case opts.Signaler == nil:
		return nil, errors.New("call: Signaler is required")
	case opts.Media == nil:
		return nil, errors.New("call: Media is required")
	case opts.NewPeer == nil:
		return nil, errors.New("call: NewPeer is required")
	}
	cons := opts.Constraints
	if !cons.Audio && !cons.Video {
		cons.Audio, cons.Video = true, true
	}

	inbox, err := opts.Signaler.Subscribe(opts.Self)
	if err != nil {
		return nil, fmt.Errorf("call: subscribe %s: %w", opts.Self, err)
	}

	c := &Controller{
		self:     opts.Self,
		sig:      opts.Signaler,
		media:    opts.Media,
		newPeer:  opts.NewPeer,
		cons:     cons,
		ring:     opts.RingTimeout,
		ops:      make(chan func(), opsBuffer),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		outbox:   newSerialQueue(),
		history:  newHistoryWorker(opts.History),
		recent:   util.NewRingBuffer[Event](recentEvents),
		subs:     make(map[chan Update]struct{}),
	}
	c.snap = c.snapshot()
	observeState(StateIdle)

	go c.loop()
	go c.readLoop(inbox)

	log.Infof("CALL: controller ready for %s", c.self)
	return c, nil
}

// ── Public surface ───────────────────────────────────────────────────────────

// Start places a call to remote. It returns once local media is acquired
// and the offer is queued; the session is then Calling. contextID is an
// optional tag carried on the session (e.g. the chat the call started from).
func (c *Controller) Start(ctx context.Context, remote, contextID string) error {
	if remote == "" || remote == c.self {
		return ErrInvalidIdentity
	}
	return c.call(ctx, func(reply chan<- error) { c.start(ctx, remote, contextID, reply) })
}

// Accept answers the incoming call. If media acquisition fails the session
// stays Incoming and no answer is sent.
func (c *Controller) Accept(ctx context.Context) error {
	return c.call(ctx, func(reply chan<- error) { c.accept(ctx, reply) })
}

// Reject declines the incoming call.
func (c *Controller) Reject(ctx context.Context) error {
	return c.call(ctx, func(reply chan<- error) {
		s := c.cur
		if s == nil || s.pending || s.state != StateIncoming {
			reply <- ErrNoIncomingCall
			return
		}
		c.terminate(s, teardown{send: KindRejected, status: HistoryRejected, reason: "rejected"})
		reply <- nil
	})
}

// End terminates the current session from any state. It is idempotent and
// interrupts an acquisition that is still in flight.
func (c *Controller) End(ctx context.Context) error {
	return c.call(ctx, func(reply chan<- error) {
		if s := c.cur; s != nil {
			c.terminate(s, teardown{send: KindEnded, status: HistoryEnded, reason: "local"})
		}
		reply <- nil
	})
}

// ToggleAudio flips the microphone enablement and returns the new value.
func (c *Controller) ToggleAudio() (bool, error) { return c.toggle(KindAudio) }

// ToggleVideo flips the camera enablement and returns the new value.
func (c *Controller) ToggleVideo() (bool, error) { return c.toggle(KindVideo) }

func (c *Controller) toggle(kind TrackKind) (bool, error) {
	var on bool
	err := c.call(context.Background(), func(reply chan<- error) {
		on = !c.media.Enabled(kind)
		c.media.SetTrackEnabled(kind, on)
		c.trace(c.cur, "%s enabled=%v", kind, on)
		c.publish()
		reply <- nil
	})
	if err != nil {
		return false, err
	}
	return on, nil
}

// SwitchCamera moves video to the next camera. The replacement happens on
// the existing sender, so the session is not renegotiated.
func (c *Controller) SwitchCamera(ctx context.Context) error {
	old, next, err := c.media.SwitchVideoDevice(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, func(reply chan<- error) {
		s := c.cur
		if s != nil && s.peer != nil {
			if err := s.peer.ReplaceLocalTrack(old, next); err != nil {
				c.trace(s, "replace video track: %v", err)
				reply <- fmt.Errorf("%w: replace video track: %v", ErrNegotiationFailed, err)
				return
			}
		}
		c.trace(s, "camera → %s", next.DeviceID())
		c.publish()
		reply <- nil
	})
}

// Session returns the current snapshot.
func (c *Controller) Session() Session {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe returns a channel that receives every published Update and a
// cancel function. Slow subscribers miss updates rather than block.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subBuffer)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.subMu.Unlock()
		})
	}
}

// LocalTracks returns the capture tracks currently held.
func (c *Controller) LocalTracks() []Track { return c.media.Tracks() }

// RemoteTracks returns the inbound tracks of the current session.
func (c *Controller) RemoteTracks() []RemoteTrack {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return append([]RemoteTrack(nil), c.tracks...)
}

// Recent returns the debug trail, oldest first. A non-empty key limits it to
// one call attempt.
func (c *Controller) Recent(key string) []Event {
	if key == "" {
		return c.recent.Snapshot()
	}
	return c.recent.Filter(func(e Event) bool { return e.Key == key })
}

// Close ends any session, stops the loop and waits for queued envelopes
// and history writes to flush.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		_ = c.call(ctx, func(reply chan<- error) {
			if s := c.cur; s != nil {
				c.terminate(s, teardown{send: KindEnded, status: HistoryEnded, reason: "shutdown"})
			}
			c.closed = true
			reply <- nil
		})
		close(c.quit)
		<-c.loopDone

		c.sig.Unsubscribe()
		c.outbox.close(ctx)
		c.history.close(ctx)

		c.subMu.Lock()
		for ch := range c.subs {
			close(ch)
		}
		c.subs = map[chan Update]struct{}{}
		c.subMu.Unlock()
		log.Infof("CALL: controller for %s closed", c.self)
	})
	return nil
}

// ── Loop plumbing ────────────────────────────────────────────────────────────

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.quit:
			// Late task results still need to release what they carry.
			for {
				select {
				case fn := <-c.ops:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) readLoop(inbox <-chan Envelope) {
	for {
		select {
		case env, ok := <-inbox:
			if !ok {
				return
			}
			if !c.post(func() { c.onEnvelope(env) }) {
				return
			}
		case <-c.quit:
			return
		}
	}
}

// post hands fn to the loop. It returns false once the controller is closed.
func (c *Controller) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the loop and waits for its reply.
func (c *Controller) call(ctx context.Context, fn func(reply chan<- error)) error {
	reply := make(chan error, 1)
	select {
	case c.ops <- func() { fn(reply) }:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// taskContext derives the context of one long-running step: it is cancelled
// by End (through the session) and by the caller giving up. done must be
// called from the loop once the step's result has been handled.
func taskContext(caller context.Context, s *session) (context.Context, func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// emitter tags adapter events with the session generation so events from a
// torn-down adapter are dropped.
func (c *Controller) emitter(gen uint64) func(PeerEvent) {
	return func(ev PeerEvent) {
		c.post(func() { c.onPeerEvent(gen, ev) })
	}
}

// ── Outbound call ────────────────────────────────────────────────────────────

func (c *Controller) start(ctx context.Context, remote, contextID string, reply chan<- error) {
	if c.closed {
		reply <- ErrClosed
		return
	}
	if c.cur != nil {
		reply <- ErrSessionBusy
		return
	}

	c.gen++
	s := newSession(context.Background(), c.gen, RoleCaller, remote, uuid.NewString(), contextID)
	s.pending = true
	s.claimed = true
	c.cur = s
	c.trace(s, "start → %s", remote)

	taskCtx, done := taskContext(ctx, s)
	cons := c.cons
	go func() {
		peer, offer, err := c.prepareOffer(taskCtx, s.gen, cons)
		posted := c.post(func() {
			done()
			c.offerReady(s, peer, offer, err, reply)
		})
		if !posted && peer != nil {
			_ = peer.Close()
		}
	}()
}

func (c *Controller) prepareOffer(ctx context.Context, gen uint64, cons Constraints) (PeerConnection, webrtc.SessionDescription, error) {
	var none webrtc.SessionDescription

	peer, err := c.preparePeer(ctx, gen, cons)
	if err != nil {
		return nil, none, err
	}
	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		_ = peer.Close()
		return nil, none, fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}
	return peer, offer, nil
}

// preparePeer acquires local media, creates an adapter and attaches the
// tracks to it.
func (c *Controller) preparePeer(ctx context.Context, gen uint64, cons Constraints) (PeerConnection, error) {
	tracks, err := c.media.Acquire(ctx, cons)
	if err != nil {
		return nil, err
	}
	peer, err := c.newPeer(c.emitter(gen))
	if err != nil {
		return nil, fmt.Errorf("%w: create peer: %v", ErrNegotiationFailed, err)
	}
	for _, t := range tracks {
		if err := peer.AttachLocalTrack(t); err != nil {
			_ = peer.Close()
			return nil, fmt.Errorf("%w: attach %s: %v", ErrNegotiationFailed, t.Kind(), err)
		}
	}
	return peer, nil
}

func (c *Controller) offerReady(s *session, peer PeerConnection, offer webrtc.SessionDescription, err error, reply chan<- error) {
	if c.cur != s {
		// Ended while preparing; End already released the media.
		if peer != nil {
			_ = peer.Close()
		}
		reply <- ErrSessionEnded
		return
	}
	if err != nil {
		c.cur = nil
		s.cancel()
		c.media.Release()
		c.trace(s, "start failed: %v", err)
		reply <- err
		return
	}

	s.pending = false
	s.peer = peer
	s.state = StateCalling
	s.startedAt = time.Now()

	c.send(offerEnvelope(c.self, s.remote, s.key, offer))
	c.descQueued(s)
	c.recordCreate(s)
	callsStarted.WithLabelValues(string(RoleCaller)).Inc()

	if c.ring > 0 {
		s.ringTimer = time.AfterFunc(c.ring, func() {
			c.post(func() { c.ringExpired(s) })
		})
	}

	c.trace(s, "offer sent to %s", s.remote)
	c.publish()
	reply <- nil
}

func (c *Controller) onAnswer(s *session, env Envelope) {
	if s.role != RoleCaller || s.state != StateCalling || s.peer == nil || s.remoteApplied || s.applying {
		c.ignore(env, "unexpected")
		return
	}
	s.applying = true
	peer, ctx, answer := s.peer, s.ctx, *env.SDP
	go func() {
		err := peer.ApplyRemoteDescription(ctx, answer)
		c.post(func() { c.answerApplied(s, err) })
	}()
}

func (c *Controller) answerApplied(s *session, err error) {
	if c.cur != s {
		return
	}
	s.applying = false
	if err != nil {
		c.fail(s, fmt.Errorf("%w: apply answer: %v", ErrNegotiationFailed, err))
		return
	}
	s.remoteApplied = true
	c.trace(s, "answer applied")
	c.drain(s)
}

func (c *Controller) ringExpired(s *session) {
	if c.cur != s || s.state != StateCalling {
		return
	}
	c.trace(s, "no answer after %s", c.ring)
	c.terminate(s, teardown{send: KindEnded, status: HistoryEnded, reason: "timeout"})
}

// ── Inbound call ─────────────────────────────────────────────────────────────

func (c *Controller) onOffer(env Envelope) {
	if c.closed {
		c.ignore(env, "closed")
		return
	}
	if c.cur != nil {
		// Glare or a second caller: one session per controller wins over
		// any fairness protocol.
		c.ignore(env, "busy")
		log.Infof("CALL [%s]: offer from %s ignored, session busy", env.Key, env.From)
		return
	}

	c.gen++
	s := newSession(context.Background(), c.gen, RoleCallee, env.From, env.Key, "")
	sdp := *env.SDP
	s.offer = &sdp
	s.state = StateIncoming
	s.startedAt = time.Now()
	c.cur = s
	callsStarted.WithLabelValues(string(RoleCallee)).Inc()

	c.trace(s, "incoming call from %s", s.remote)
	c.publish()
}

func (c *Controller) accept(ctx context.Context, reply chan<- error) {
	s := c.cur
	if s == nil || s.pending || s.state != StateIncoming {
		reply <- ErrNoIncomingCall
		return
	}
	if s.accepting {
		reply <- ErrSessionBusy
		return
	}
	s.accepting = true
	s.claimed = true
	c.trace(s, "accepting")

	taskCtx, done := taskContext(ctx, s)
	cons, offer := c.cons, *s.offer
	go func() {
		peer, err := c.preparePeer(taskCtx, s.gen, cons)
		if err == nil {
			if err = peer.ApplyRemoteDescription(taskCtx, offer); err != nil {
				_ = peer.Close()
				peer = nil
				err = fmt.Errorf("%w: apply offer: %v", ErrNegotiationFailed, err)
			}
		}
		posted := c.post(func() { c.offerApplied(s, peer, err, taskCtx, done, reply) })
		if !posted && peer != nil {
			_ = peer.Close()
		}
	}()
}

func (c *Controller) offerApplied(s *session, peer PeerConnection, err error, taskCtx context.Context, done func(), reply chan<- error) {
	if c.cur != s {
		done()
		if peer != nil {
			_ = peer.Close()
		}
		reply <- ErrSessionEnded
		return
	}
	if err != nil {
		// Stay Incoming; the user may retry or reject.
		done()
		s.accepting = false
		s.claimed = false
		c.media.Release()
		c.trace(s, "accept failed: %v", err)
		reply <- err
		return
	}

	s.peer = peer
	s.remoteApplied = true
	c.drain(s)

	go func() {
		answer, err := peer.CreateAnswer(taskCtx)
		c.post(func() {
			done()
			c.answerReady(s, answer, err, reply)
		})
	}()
}

func (c *Controller) answerReady(s *session, answer webrtc.SessionDescription, err error, reply chan<- error) {
	if c.cur != s {
		reply <- ErrSessionEnded
		return
	}
	if err != nil {
		err = fmt.Errorf("%w: create answer: %v", ErrNegotiationFailed, err)
		c.fail(s, err)
		reply <- err
		return
	}

	s.accepting = false
	c.send(answerEnvelope(c.self, s.remote, s.key, answer))
	c.descQueued(s)
	if s.state == StateIncoming {
		// Connected pending: ConnectedAt waits for the adapter.
		s.state = StateConnected
	}
	c.recordCreate(s)
	c.recordActive(s)

	c.trace(s, "answer sent to %s", s.remote)
	c.publish()
	reply <- nil
}

// ── Events ───────────────────────────────────────────────────────────────────

func (c *Controller) onEnvelope(env Envelope) {
	envelopesTotal.WithLabelValues("in", string(env.Kind)).Inc()
	if err := env.Validate(); err != nil {
		c.ignore(env, "invalid")
		return
	}
	if env.To != c.self {
		c.ignore(env, "to-mismatch")
		return
	}
	if env.Kind == KindOffer {
		c.onOffer(env)
		return
	}

	s := c.cur
	if s == nil || s.pending || env.From != s.remote || env.Key != s.key {
		c.ignore(env, "stale")
		return
	}

	switch env.Kind {
	case KindAnswer:
		c.onAnswer(s, env)
	case KindCandidate:
		c.onRemoteCandidate(s, *env.Candidate)
	case KindRejected:
		c.trace(s, "rejected by %s", s.remote)
		c.terminate(s, teardown{status: HistoryRejected, reason: "remote-rejected"})
	case KindEnded:
		c.trace(s, "ended by %s", s.remote)
		c.terminate(s, teardown{status: HistoryEnded, reason: "remote-ended"})
	}
}

func (c *Controller) onRemoteCandidate(s *session, cand webrtc.ICECandidateInit) {
	if s.peer != nil && s.remoteApplied {
		if err := s.peer.AddCandidate(cand); err != nil {
			log.Warnf("CALL [%s]: add candidate: %v", s.key, err)
		}
		return
	}
	s.buffer.Push(cand)
	candidatesBuffered.Inc()
}

// drain applies every buffered remote candidate in arrival order. It runs
// exactly once per session, right after the remote description is applied.
func (c *Controller) drain(s *session) {
	n := s.buffer.Drain(s.peer.AddCandidate, func(cand webrtc.ICECandidateInit, err error) {
		log.Warnf("CALL [%s]: buffered candidate %q: %v", s.key, cand.Candidate, err)
	})
	if n > 0 {
		c.trace(s, "applied %d buffered candidate(s)", n)
	}
}

func (c *Controller) onPeerEvent(gen uint64, ev PeerEvent) {
	s := c.cur
	if s == nil || s.gen != gen {
		return
	}
	switch ev.Kind {
	case PeerLocalCandidate:
		if ev.Candidate == nil {
			return
		}
		if !s.descSent {
			s.heldLocal = append(s.heldLocal, *ev.Candidate)
			return
		}
		c.send(candidateEnvelope(c.self, s.remote, s.key, *ev.Candidate))

	case PeerRemoteTrack:
		if ev.Track == nil {
			return
		}
		s.remoteTracks = append(s.remoteTracks, ev.Track)
		c.trace(s, "remote %s track %s", ev.Track.Kind(), ev.Track.ID())
		c.publish()

	case PeerConnectionState:
		c.onConnectionState(s, ev.State)
	}
}

func (c *Controller) onConnectionState(s *session, st ConnectionState) {
	c.trace(s, "connection %s", st)
	switch st {
	case ConnConnected:
		if s.connectedAt != nil {
			return
		}
		now := time.Now()
		s.connectedAt = &now
		s.state = StateConnected
		s.stopRing()
		c.recordActive(s)
		c.publish()
	case ConnFailed, ConnDisconnected:
		c.fail(s, fmt.Errorf("%w: connection %s", ErrNegotiationFailed, st))
	}
}

// ── Teardown ─────────────────────────────────────────────────────────────────

type teardown struct {
	send   EnvelopeKind // zero: notify nobody
	status HistoryStatus
	reason string
	err    error
}

// fail is an implicit End caused by the adapter or negotiation.
func (c *Controller) fail(s *session, err error) {
	c.terminate(s, teardown{send: KindEnded, status: HistoryEnded, reason: "failed", err: err})
}

// terminate is the single teardown path. Every resource of s is released
// here exactly once, because s stops being current before anything else.
func (c *Controller) terminate(s *session, td teardown) {
	c.cur = nil
	s.cancel()
	s.stopRing()
	now := time.Now()

	if td.send != "" && s.remote != "" {
		c.send(terminalEnvelope(td.send, c.self, s.remote, s.key, td.reason))
	}
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			log.Warnf("CALL [%s]: close peer: %v", s.key, err)
		}
		s.peer = nil
	}
	if s.claimed {
		c.media.Release()
	}

	if s.hist == nil && !s.pending && s.role == RoleCallee {
		// An incoming call that was never answered still gets a record.
		c.recordCreate(s)
	}
	if s.hist != nil {
		c.history.update(s.hist, td.status, &now, s.duration(now))
	}

	if d := s.duration(now); d != nil {
		callDuration.Observe(float64(*d))
	}
	callsEnded.WithLabelValues(td.reason).Inc()
	if td.err != nil {
		c.trace(s, "ended (%s): %v", td.reason, td.err)
	} else {
		c.trace(s, "ended (%s)", td.reason)
	}

	if !s.pending {
		ended := c.describe(s)
		ended.State = StateEnded
		c.broadcast(Update{Session: ended, Err: td.err})
	}
	c.publish()
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (c *Controller) send(env Envelope) {
	envelopesTotal.WithLabelValues("out", string(env.Kind)).Inc()
	c.outbox.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := c.sig.Send(ctx, env.To, env); err != nil {
			log.Warnf("CALL [%s]: send %s to %s: %v", env.Key, env.Kind, env.To, err)
		}
	})
}

// descQueued marks our description as sent and flushes held candidates
// behind it.
func (c *Controller) descQueued(s *session) {
	s.descSent = true
	for _, cand := range s.heldLocal {
		c.send(candidateEnvelope(c.self, s.remote, s.key, cand))
	}
	s.heldLocal = nil
}

func (c *Controller) recordCreate(s *session) {
	if s.hist != nil {
		return
	}
	s.hist = &historyEntry{
		caller:    s.caller(c.self),
		receiver:  s.receiver(c.self),
		startedAt: s.startedAt,
	}
	c.history.create(s.hist, func(id string) {
		c.post(func() {
			s.histID = id
			if c.cur == s {
				c.publish()
			}
		})
	})
}

func (c *Controller) recordActive(s *session) {
	if s.hist == nil || s.histActive {
		return
	}
	s.histActive = true
	c.history.update(s.hist, HistoryActive, nil, nil)
}

func (c *Controller) ignore(env Envelope, reason string) {
	envelopesIgnored.WithLabelValues(reason).Inc()
	log.Debugf("CALL [%s]: ignored %s from %s (%s)", env.Key, env.Kind, env.From, reason)
}

func (c *Controller) trace(s *session, format string, args ...any) {
	key := ""
	if s != nil {
		key = s.key
	}
	text := fmt.Sprintf(format, args...)
	log.Infof("CALL [%s]: %s", key, text)
	c.recent.Push(Event{At: time.Now(), Key: key, Text: text})
}

func (c *Controller) snapshot() Session {
	s := c.cur
	if s == nil || s.pending {
		return Session{
			Local:        c.self,
			State:        StateIdle,
			AudioEnabled: c.media.Enabled(KindAudio),
			VideoEnabled: c.media.Enabled(KindVideo),
		}
	}
	return c.describe(s)
}

func (c *Controller) describe(s *session) Session {
	started := s.startedAt
	out := Session{
		ID:           s.histID,
		Key:          s.key,
		Local:        c.self,
		Remote:       s.remote,
		ContextID:    s.contextID,
		Role:         s.role,
		State:        s.observable(),
		StartedAt:    &started,
		AudioEnabled: c.media.Enabled(KindAudio),
		VideoEnabled: c.media.Enabled(KindVideo),
	}
	if s.connectedAt != nil {
		at := *s.connectedAt
		out.ConnectedAt = &at
	}
	return out
}

// publish refreshes the snapshot and fans it out.
func (c *Controller) publish() {
	snap := c.snapshot()
	var tracks []RemoteTrack
	if c.cur != nil {
		tracks = append(tracks, c.cur.remoteTracks...)
	}

	c.snapMu.Lock()
	c.snap = snap
	c.tracks = tracks
	c.snapMu.Unlock()

	observeState(snap.State)
	c.broadcast(Update{Session: snap})
}

func (c *Controller) broadcast(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
