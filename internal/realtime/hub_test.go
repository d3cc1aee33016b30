package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b, ok := <-ch:
		if !ok {
			t.Fatal("mailbox closed")
		}
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestHubDeliversToIdentity(t *testing.T) {
	h := NewHub()
	defer h.Close()
	ctx := context.Background()

	alice, cancelA, err := h.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer cancelA()
	bob, cancelB, err := h.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer cancelB()

	if err := h.Publish(ctx, "bob", []byte("hi bob")); err != nil {
		t.Fatal(err)
	}
	if got := string(recv(t, bob)); got != "hi bob" {
		t.Fatalf("bob got %q", got)
	}
	select {
	case b := <-alice:
		t.Fatalf("alice got %q", b)
	default:
	}
}

func TestHubKeepsOrder(t *testing.T) {
	h := NewHub()
	defer h.Close()
	ctx := context.Background()

	ch, cancel, err := h.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	for i := 0; i < 10; i++ {
		if err := h.Publish(ctx, "bob", []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		if got := string(recv(t, ch)); got != fmt.Sprint(i) {
			t.Fatalf("message %d: got %q", i, got)
		}
	}
}

func TestHubCopiesPayload(t *testing.T) {
	h := NewHub()
	defer h.Close()
	ctx := context.Background()

	ch, cancel, _ := h.Subscribe(ctx, "bob")
	defer cancel()

	buf := []byte("abc")
	_ = h.Publish(ctx, "bob", buf)
	buf[0] = 'x'
	if got := string(recv(t, ch)); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	defer h.Close()
	ctx := context.Background()

	ch, cancel, _ := h.Subscribe(ctx, "bob")
	defer cancel()

	for i := 0; i < mailboxBuffer+10; i++ {
		if err := h.Publish(ctx, "bob", []byte("x")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if len(ch) != mailboxBuffer {
		t.Fatalf("queued %d, want %d", len(ch), mailboxBuffer)
	}
}

func TestHubCancel(t *testing.T) {
	h := NewHub()
	defer h.Close()
	ctx := context.Background()

	ch, cancel, _ := h.Subscribe(ctx, "bob")
	if h.Subscribers("bob") != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers("bob"))
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	if h.Subscribers("bob") != 0 {
		t.Fatalf("subscribers = %d after cancel", h.Subscribers("bob"))
	}
	// Nobody listening is not an error.
	if err := h.Publish(ctx, "bob", []byte("x")); err != nil {
		t.Fatal(err)
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	ch, cancel, _ := h.Subscribe(ctx, "bob")
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Close")
	}
	cancel()

	if err := h.Publish(ctx, "bob", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close: %v", err)
	}
	if _, _, err := h.Subscribe(ctx, "bob"); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close: %v", err)
	}
}

func TestHubEmptyIdentity(t *testing.T) {
	h := NewHub()
	defer h.Close()
	if err := h.Publish(context.Background(), "", nil); !errors.Is(err, ErrEmptyIdentity) {
		t.Fatalf("publish: %v", err)
	}
	if _, _, err := h.Subscribe(context.Background(), ""); !errors.Is(err, ErrEmptyIdentity) {
		t.Fatalf("subscribe: %v", err)
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("goop.call.v1", "12D3Koo"); got != "goop.call.v1/12D3Koo" {
		t.Fatalf("Topic = %q", got)
	}
}
