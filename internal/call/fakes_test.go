package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// ── Signaler ─────────────────────────────────────────────────────────────────

type fakeSignaler struct {
	inbox chan Envelope

	mu   sync.Mutex
	sent []Envelope
	subs []string
}

func newFakeSignaler() *fakeSignaler {
	// Unbuffered: deliver returns once the controller has taken the envelope.
	return &fakeSignaler{inbox: make(chan Envelope)}
}

func (f *fakeSignaler) Subscribe(identity string) (<-chan Envelope, error) {
	f.mu.Lock()
	f.subs = append(f.subs, identity)
	f.mu.Unlock()
	return f.inbox, nil
}

func (f *fakeSignaler) Send(_ context.Context, _ string, env Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) Unsubscribe() {}

func (f *fakeSignaler) deliver(env Envelope) { f.inbox <- env }

func (f *fakeSignaler) envelopes() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.sent...)
}

func (f *fakeSignaler) kinds() []EnvelopeKind {
	var out []EnvelopeKind
	for _, e := range f.envelopes() {
		out = append(out, e.Kind)
	}
	return out
}

func (f *fakeSignaler) find(kind EnvelopeKind) (Envelope, bool) {
	for _, e := range f.envelopes() {
		if e.Kind == kind {
			return e, true
		}
	}
	return Envelope{}, false
}

// ── Capture ──────────────────────────────────────────────────────────────────

type fakeTrack struct {
	id      string
	dev     Device
	enabled atomic.Bool
	stops   atomic.Int32
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Kind() TrackKind          { return t.dev.Kind }
func (t *fakeTrack) DeviceID() string         { return t.dev.ID }
func (t *fakeTrack) Enabled() bool            { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(on bool)       { t.enabled.Store(on) }
func (t *fakeTrack) Local() webrtc.TrackLocal { return nil }
func (t *fakeTrack) Stop() error              { t.stops.Add(1); return nil }

type fakeCapturer struct {
	mu      sync.Mutex
	devices []Device
	fail    map[TrackKind]error
	// gate, when set, makes Open wait for it (or ctx) before returning.
	gate   chan struct{}
	opened []*fakeTrack
	calls  chan Device
	seq    int
}

func newFakeCapturer(devices ...Device) *fakeCapturer {
	if len(devices) == 0 {
		devices = []Device{
			{ID: "cam0", Label: "Front", Kind: KindVideo},
			{ID: "mic0", Label: "Mic", Kind: KindAudio},
		}
	}
	return &fakeCapturer{
		devices: devices,
		fail:    make(map[TrackKind]error),
		calls:   make(chan Device, 256),
	}
}

func (f *fakeCapturer) Devices() ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Device(nil), f.devices...), nil
}

func (f *fakeCapturer) Open(ctx context.Context, dev Device) (Track, error) {
	f.calls <- dev
	f.mu.Lock()
	gate := f.gate
	err := f.fail[dev.Kind]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", dev.ID, f.seq), dev: dev}
	t.enabled.Store(true)
	f.opened = append(f.opened, t)
	return t, nil
}

func (f *fakeCapturer) setFail(kind TrackKind, err error) {
	f.mu.Lock()
	f.fail[kind] = err
	f.mu.Unlock()
}

func (f *fakeCapturer) tracks() []*fakeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTrack(nil), f.opened...)
}

// ── Peer ─────────────────────────────────────────────────────────────────────

type fakePeer struct {
	emit func(PeerEvent)

	mu        sync.Mutex
	remote    *webrtc.SessionDescription
	attached  []string
	added     []string
	replaced  [][2]string
	closes    int
	applyErr  error
	answerErr error
	// offerCandidates are emitted while the offer is being created, the
	// way trickle ICE starts gathering on SetLocalDescription.
	offerCandidates []string
}

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	cands := p.offerCandidates
	p.mu.Unlock()
	for _, c := range cands {
		p.emit(PeerEvent{Kind: PeerLocalCandidate, Candidate: &webrtc.ICECandidateInit{Candidate: c}})
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return webrtc.SessionDescription{}, p.answerErr
	}
	if p.remote == nil {
		return webrtc.SessionDescription{}, ErrNotReady
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) ApplyRemoteDescription(_ context.Context, desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.applyErr != nil {
		return p.applyErr
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) AddCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return ErrNotReady
	}
	p.added = append(p.added, c.Candidate)
	return nil
}

func (p *fakePeer) AttachLocalTrack(t Track) error {
	p.mu.Lock()
	p.attached = append(p.attached, t.ID())
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) ReplaceLocalTrack(old, next Track) error {
	p.mu.Lock()
	p.replaced = append(p.replaced, [2]string{old.ID(), next.ID()})
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) state(s ConnectionState) {
	p.emit(PeerEvent{Kind: PeerConnectionState, State: s})
}

func (p *fakePeer) candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.added...)
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	// setup customizes each new peer before it is handed out.
	setup func(*fakePeer)
}

func (f *fakeFactory) New(emit func(PeerEvent)) (PeerConnection, error) {
	p := &fakePeer{emit: emit}
	f.mu.Lock()
	if f.setup != nil {
		f.setup(p)
	}
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

// ── History ──────────────────────────────────────────────────────────────────

type historyCall struct {
	op       string
	id       string
	caller   string
	receiver string
	status   HistoryStatus
	duration *int
	endedAt  *time.Time
}

type fakeHistory struct {
	mu      sync.Mutex
	calls   []historyCall
	nextID  int
	failAll bool
}

func (h *fakeHistory) Create(_ context.Context, caller, receiver string, _ time.Time) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failAll {
		return "", errors.New("disk full")
	}
	h.nextID++
	id := fmt.Sprintf("h%d", h.nextID)
	h.calls = append(h.calls, historyCall{op: "create", id: id, caller: caller, receiver: receiver})
	return id, nil
}

func (h *fakeHistory) UpdateStatus(_ context.Context, id string, status HistoryStatus, endedAt *time.Time, duration *int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failAll {
		return errors.New("disk full")
	}
	h.calls = append(h.calls, historyCall{op: "update", id: id, status: status, duration: duration, endedAt: endedAt})
	return nil
}

func (h *fakeHistory) snapshot() []historyCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]historyCall(nil), h.calls...)
}

// ── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	t       *testing.T
	c       *Controller
	sig     *fakeSignaler
	cap     *fakeCapturer
	media   *MediaController
	peers   *fakeFactory
	history *fakeHistory
}

func newHarness(t *testing.T, self string, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		sig:     newFakeSignaler(),
		cap:     newFakeCapturer(),
		peers:   &fakeFactory{},
		history: &fakeHistory{},
	}
	h.media = NewMediaController(h.cap)
	o := Options{
		Self:     self,
		Signaler: h.sig,
		Media:    h.media,
		NewPeer:  h.peers.New,
		History:  h.history,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := NewController(o)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.c = c
	t.Cleanup(func() { _ = c.Close() })
	return h
}

// settle waits until every envelope delivered so far and every event already
// posted has been folded into the controller state.
func (h *harness) settle() {
	h.t.Helper()
	h.sig.deliver(Envelope{}) // invalid probe, dropped by the controller
	err := h.c.call(context.Background(), func(reply chan<- error) { reply <- nil })
	if err != nil {
		h.t.Fatalf("settle: %v", err)
	}
}

func (h *harness) state() State { return h.c.Session().State }

func (h *harness) offerFrom(from, key string) Envelope {
	return offerEnvelope(from, h.c.self, key, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote offer"})
}

func (h *harness) answerFrom(from, key string) Envelope {
	return answerEnvelope(from, h.c.self, key, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote answer"})
}

func (h *harness) candidateFrom(from, key, cand string) Envelope {
	return candidateEnvelope(from, h.c.self, key, webrtc.ICECandidateInit{Candidate: cand})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func candidateInit(c string) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: c}
}
