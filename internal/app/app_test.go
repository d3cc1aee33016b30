package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/realtime"
)

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

func offer(from, to string) call.Envelope {
	return call.Envelope{
		Kind: call.KindOffer,
		From: from,
		To:   to,
		Key:  "k1",
		SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	}
}

func TestMailboxSignalerRoundTrip(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	bob := newMailboxSignaler(hub)
	in, err := bob.Subscribe("bob")
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Unsubscribe()

	alice := newMailboxSignaler(hub)
	if err := alice.Send(context.Background(), "bob", offer("alice", "bob")); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-in:
		if env.Kind != call.KindOffer || env.From != "alice" || env.Key != "k1" {
			t.Fatalf("got %+v", env)
		}
		if env.SDP == nil || env.SDP.SDP != "v=0" {
			t.Fatalf("sdp lost: %+v", env.SDP)
		}
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestMailboxSignalerDropsInvalid(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	s := newMailboxSignaler(hub)
	in, err := s.Subscribe("bob")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Unsubscribe()

	ctx := context.Background()
	_ = hub.Publish(ctx, "bob", []byte("not json"))
	_ = hub.Publish(ctx, "bob", []byte(`{"kind":"offer","from":"a","to":"bob"}`))
	if err := s.Send(ctx, "bob", call.Envelope{Kind: call.KindEnded, From: "alice", To: "bob", Key: "k1"}); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-in:
		if env.Kind != call.KindEnded {
			t.Fatalf("first delivered envelope = %s, want ended", env.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("valid envelope not delivered")
	}
}

func TestMailboxSignalerSendRejectsInvalid(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	s := newMailboxSignaler(hub)
	if err := s.Send(context.Background(), "bob", call.Envelope{Kind: call.KindOffer, From: "a", To: "bob"}); err == nil {
		t.Fatal("expected error for offer without sdp")
	}
}

func TestMailboxSignalerUnsubscribeClosesChannel(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	s := newMailboxSignaler(hub)
	in, err := s.Subscribe("bob")
	if err != nil {
		t.Fatal(err)
	}
	s.Unsubscribe()
	s.Unsubscribe()

	select {
	case _, ok := <-in:
		if ok {
			t.Fatal("unexpected envelope")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestNormalizeLocalViewer(t *testing.T) {
	cases := []struct{ in, addr, url string }{
		{":8787", "127.0.0.1:8787", "http://127.0.0.1:8787"},
		{"0.0.0.0:9000", "127.0.0.1:9000", "http://127.0.0.1:9000"},
		{" 127.0.0.1:1 ", "127.0.0.1:1", "http://127.0.0.1:1"},
	}
	for _, c := range cases {
		addr, url := NormalizeLocalViewer(c.in)
		if addr != c.addr || url != c.url {
			t.Errorf("NormalizeLocalViewer(%q) = %q, %q", c.in, addr, url)
		}
	}
}

func TestPionConfig(t *testing.T) {
	c := config.Default().Call
	c.ICEServers = []string{"stun:stun.example.org:3478"}
	c.DisconnectedTimeoutSec = 4
	c.FailedTimeoutSec = 9

	pc := pionConfig(c)
	if len(pc.ICEServers) != 1 || pc.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("ice servers = %+v", pc.ICEServers)
	}
	if pc.DisconnectedTimeout != 4*time.Second || pc.FailedTimeout != 9*time.Second {
		t.Fatalf("timeouts = %v / %v", pc.DisconnectedTimeout, pc.FailedTimeout)
	}
	if pc.LoggerFactory == nil {
		t.Fatal("logger factory not set")
	}

	c.ICEServers = nil
	if pc := pionConfig(c); pc.ICEServers != nil {
		t.Fatalf("expected no ice servers, got %+v", pc.ICEServers)
	}
}

// ── Two peers on one hub ─────────────────────────────────────────────────────

type stubTrack struct {
	id      string
	dev     call.Device
	enabled atomic.Bool
}

func (t *stubTrack) ID() string               { return t.id }
func (t *stubTrack) Kind() call.TrackKind     { return t.dev.Kind }
func (t *stubTrack) DeviceID() string         { return t.dev.ID }
func (t *stubTrack) Enabled() bool            { return t.enabled.Load() }
func (t *stubTrack) SetEnabled(on bool)       { t.enabled.Store(on) }
func (t *stubTrack) Local() webrtc.TrackLocal { return nil }
func (t *stubTrack) Stop() error              { return nil }

type stubCapturer struct{ seq atomic.Int32 }

func (c *stubCapturer) Devices() ([]call.Device, error) {
	return []call.Device{
		{ID: "cam0", Label: "Cam", Kind: call.KindVideo},
		{ID: "mic0", Label: "Mic", Kind: call.KindAudio},
	}, nil
}

func (c *stubCapturer) Open(_ context.Context, dev call.Device) (call.Track, error) {
	t := &stubTrack{id: fmt.Sprintf("%s-%d", dev.ID, c.seq.Add(1)), dev: dev}
	t.enabled.Store(true)
	return t, nil
}

// stubPeer negotiates nothing; it only tracks which descriptions were
// applied so the signaling exchange can be observed.
type stubPeer struct {
	emit func(call.PeerEvent)

	mu     sync.Mutex
	remote *webrtc.SessionDescription
	closed bool
}

func (p *stubPeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *stubPeer) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, call.ErrNotReady
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *stubPeer) ApplyRemoteDescription(_ context.Context, d webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = &d
	p.mu.Unlock()
	return nil
}

func (p *stubPeer) AddCandidate(webrtc.ICECandidateInit) error { return nil }
func (p *stubPeer) AttachLocalTrack(call.Track) error          { return nil }
func (p *stubPeer) ReplaceLocalTrack(_, _ call.Track) error    { return nil }

func (p *stubPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *stubPeer) remoteType() webrtc.SDPType {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SDPTypeUnknown
	}
	return p.remote.Type
}

type stubFactory struct {
	mu    sync.Mutex
	peers []*stubPeer
}

func (f *stubFactory) New(emit func(call.PeerEvent)) (call.PeerConnection, error) {
	p := &stubPeer{emit: emit}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *stubFactory) last() *stubPeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func newPeer(t *testing.T, self string, hub *realtime.Hub) (*call.Controller, *stubFactory) {
	t.Helper()
	f := &stubFactory{}
	media := call.NewMediaController(&stubCapturer{})
	ctrl, err := NewController(self, hub, media, f.New, nil, config.Default().Call)
	if err != nil {
		t.Fatalf("NewController(%s): %v", self, err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl, f
}

func TestTwoPeersOverHub(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	alice, aliceF := newPeer(t, "alice", hub)
	bob, bobF := newPeer(t, "bob", hub)

	ctx := context.Background()
	if err := alice.Start(ctx, "bob", "room-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "bob incoming", func() bool { return bob.Session().State == call.StateIncoming })

	s := bob.Session()
	if s.Remote != "alice" {
		t.Fatalf("bob session = %+v", s)
	}
	if alice.Session().State != call.StateCalling {
		t.Fatalf("alice state = %s", alice.Session().State)
	}

	if err := bob.Accept(ctx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if st := bob.Session().State; st != call.StateConnected {
		t.Fatalf("bob state after accept = %s", st)
	}
	waitFor(t, "answer applied on alice", func() bool {
		p := aliceF.last()
		return p != nil && p.remoteType() == webrtc.SDPTypeAnswer
	})
	if p := bobF.last(); p == nil || p.remoteType() != webrtc.SDPTypeOffer {
		t.Fatal("offer not applied on bob")
	}

	if err := alice.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}
	waitFor(t, "bob back to idle", func() bool { return bob.Session().State == call.StateIdle })
	if st := alice.Session().State; st != call.StateIdle {
		t.Fatalf("alice state after end = %s", st)
	}
}

func TestTwoPeersReject(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	alice, _ := newPeer(t, "alice", hub)
	bob, _ := newPeer(t, "bob", hub)

	ctx := context.Background()
	if err := alice.Start(ctx, "bob", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "bob incoming", func() bool { return bob.Session().State == call.StateIncoming })

	if err := bob.Reject(ctx); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	waitFor(t, "alice back to idle", func() bool { return alice.Session().State == call.StateIdle })
}
