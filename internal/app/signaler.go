package app

import (
	"context"
	"sync"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/realtime"
)

// mailboxSignaler carries call envelopes over a realtime mailbox in their
// JSON wire form.
type mailboxSignaler struct {
	mb realtime.Mailbox

	mu     sync.Mutex
	cancel func()
}

func newMailboxSignaler(mb realtime.Mailbox) *mailboxSignaler {
	return &mailboxSignaler{mb: mb}
}

var _ call.Signaler = (*mailboxSignaler)(nil)

func (s *mailboxSignaler) Subscribe(identity string) (<-chan call.Envelope, error) {
	raw, cancel, err := s.mb.Subscribe(context.Background(), identity)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan call.Envelope)
	go func() {
		defer close(out)
		for b := range raw {
			env, err := call.DecodeEnvelope(b)
			if err != nil {
				log.Debugf("APP: dropping undecodable envelope: %v", err)
				continue
			}
			out <- env
		}
	}()
	return out, nil
}

func (s *mailboxSignaler) Send(ctx context.Context, to string, env call.Envelope) error {
	b, err := call.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return s.mb.Publish(ctx, to, b)
}

func (s *mailboxSignaler) Unsubscribe() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
