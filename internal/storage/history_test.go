package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/petervdpas/goopcall/internal/call"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "x"); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v", err)
	}
}

func TestHistoryLifecycle(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(openTest(t))

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id, err := h.Create(ctx, "alice", "bob", start)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	recs, err := h.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != StatusPending {
		t.Fatalf("after create: %+v", recs)
	}
	if !recs[0].StartedAt.Equal(start) {
		t.Fatalf("started_at = %v, want %v", recs[0].StartedAt, start)
	}

	if err := h.UpdateStatus(ctx, id, call.HistoryActive, nil, nil); err != nil {
		t.Fatal(err)
	}
	recs, _ = h.List(ctx, 10)
	if recs[0].Status != string(call.HistoryActive) || recs[0].EndedAt != nil || recs[0].DurationSeconds != nil {
		t.Fatalf("after active: %+v", recs[0])
	}

	end := start.Add(95 * time.Second)
	dur := 95
	if err := h.UpdateStatus(ctx, id, call.HistoryEnded, &end, &dur); err != nil {
		t.Fatal(err)
	}
	recs, _ = h.List(ctx, 10)
	r := recs[0]
	if r.Status != string(call.HistoryEnded) {
		t.Fatalf("status = %q", r.Status)
	}
	if r.EndedAt == nil || !r.EndedAt.Equal(end) {
		t.Fatalf("ended_at = %v", r.EndedAt)
	}
	if r.DurationSeconds == nil || *r.DurationSeconds != 95 {
		t.Fatalf("duration = %v", r.DurationSeconds)
	}
}

func TestHistoryRejectedWithoutDuration(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(openTest(t))

	id, _ := h.Create(ctx, "bob", "alice", time.Now())
	end := time.Now()
	if err := h.UpdateStatus(ctx, id, call.HistoryRejected, &end, nil); err != nil {
		t.Fatal(err)
	}
	recs, _ := h.List(ctx, 0)
	if recs[0].Status != "rejected" || recs[0].DurationSeconds != nil || recs[0].EndedAt == nil {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestHistoryUpdateUnknown(t *testing.T) {
	h := NewHistoryStore(openTest(t))
	err := h.UpdateStatus(context.Background(), "missing", call.HistoryEnded, nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestHistoryListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(openTest(t))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, peer := range []string{"a", "b", "c"} {
		if _, err := h.Create(ctx, "me", peer, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := h.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Receiver != "c" || recs[1].Receiver != "b" {
		t.Fatalf("list = %+v", recs)
	}
}

func TestKnownPeers(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.UpsertPeer(ctx, KnownPeer{PeerID: "p1", Name: "Alice", LastSeen: t1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertPeer(ctx, KnownPeer{PeerID: "p2", Name: "Bob", LastSeen: t1.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	// Refresh without a name keeps the old one.
	if err := db.UpsertPeer(ctx, KnownPeer{PeerID: "p1", LastSeen: t1.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	peers, err := db.ListPeers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 || peers[0].PeerID != "p1" || peers[0].Name != "Alice" {
		t.Fatalf("peers = %+v", peers)
	}
	if !peers[0].LastSeen.Equal(t1.Add(time.Hour)) {
		t.Fatalf("last_seen = %v", peers[0].LastSeen)
	}

	if err := db.DeletePeer(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	peers, _ = db.ListPeers(ctx)
	if len(peers) != 1 || peers[0].PeerID != "p2" {
		t.Fatalf("after delete: %+v", peers)
	}
}
