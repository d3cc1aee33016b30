package call

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestCandidateBufferDrainsOnceInOrder(t *testing.T) {
	var b CandidateBuffer
	for _, c := range []string{"c1", "c2", "c3"} {
		if !b.Push(webrtc.ICECandidateInit{Candidate: c}) {
			t.Fatalf("Push(%s) refused before drain", c)
		}
	}
	if b.Len() != 3 || b.Drained() {
		t.Fatalf("Len=%d Drained=%v", b.Len(), b.Drained())
	}

	var applied []string
	var failed []string
	n := b.Drain(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		if c.Candidate == "c2" {
			return errors.New("bad candidate")
		}
		return nil
	}, func(c webrtc.ICECandidateInit, _ error) {
		failed = append(failed, c.Candidate)
	})

	if n != 3 || !reflect.DeepEqual(applied, []string{"c1", "c2", "c3"}) {
		t.Fatalf("drained %d: %v", n, applied)
	}
	if !reflect.DeepEqual(failed, []string{"c2"}) {
		t.Fatalf("failed = %v", failed)
	}

	if b.Push(webrtc.ICECandidateInit{Candidate: "late"}) {
		t.Fatal("Push accepted after drain")
	}
	if n := b.Drain(func(webrtc.ICECandidateInit) error {
		t.Fatal("replayed after drain")
		return nil
	}, nil); n != 0 {
		t.Fatalf("second drain = %d", n)
	}
}
