package call

import "github.com/pion/webrtc/v4"

// CandidateBuffer holds remote candidates that arrived before the remote
// description was applied. It is drained once, in arrival order; after the
// drain it refuses further pushes so nothing is ever replayed.
type CandidateBuffer struct {
	pending []webrtc.ICECandidateInit
	drained bool
}

// Push appends c. It returns false once the buffer has been drained, in
// which case the caller must apply the candidate directly.
func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) bool {
	if b.drained {
		return false
	}
	b.pending = append(b.pending, c)
	return true
}

// Drain hands every buffered candidate to apply in arrival order and marks
// the buffer drained. Errors from apply are passed to onErr and do not stop
// the drain. A second call is a no-op.
func (b *CandidateBuffer) Drain(apply func(webrtc.ICECandidateInit) error, onErr func(webrtc.ICECandidateInit, error)) int {
	if b.drained {
		return 0
	}
	b.drained = true
	pending := b.pending
	b.pending = nil
	for _, c := range pending {
		if err := apply(c); err != nil && onErr != nil {
			onErr(c, err)
		}
	}
	return len(pending)
}

// Len returns the number of buffered candidates.
func (b *CandidateBuffer) Len() int { return len(b.pending) }

// Drained reports whether Drain has run.
func (b *CandidateBuffer) Drained() bool { return b.drained }
