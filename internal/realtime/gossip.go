package realtime

import (
	"context"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// GossipMailbox maps every identity to its own gossipsub topic. Publishing
// joins the recipient's topic lazily; subscribing joins our own.
type GossipMailbox struct {
	ps     *pubsub.PubSub
	self   peer.ID
	prefix string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

// NewGossipMailbox creates a mailbox on an existing gossipsub router.
func NewGossipMailbox(ps *pubsub.PubSub, self peer.ID, prefix string) *GossipMailbox {
	return &GossipMailbox{
		ps:     ps,
		self:   self,
		prefix: prefix,
		topics: make(map[string]*pubsub.Topic),
	}
}

func (g *GossipMailbox) topic(identity string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	if t, ok := g.topics[identity]; ok {
		return t, nil
	}
	t, err := g.ps.Join(Topic(g.prefix, identity))
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", identity, err)
	}
	g.topics[identity] = t
	return t, nil
}

func (g *GossipMailbox) Publish(ctx context.Context, to string, data []byte) error {
	if to == "" {
		return ErrEmptyIdentity
	}
	t, err := g.topic(to)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

func (g *GossipMailbox) Subscribe(ctx context.Context, identity string) (<-chan []byte, func(), error) {
	if identity == "" {
		return nil, nil, ErrEmptyIdentity
	}
	t, err := g.topic(identity)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", identity, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []byte, mailboxBuffer)
	go func() {
		defer close(out)
		for {
			m, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if m.GetFrom() == g.self {
				continue
			}
			select {
			case out <- m.Data:
			default:
				log.Warnf("REALTIME: mailbox %s full, message from %s dropped", identity, m.GetFrom())
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			sub.Cancel()
			cancel()
		})
	}, nil
}

// Close leaves every joined topic.
func (g *GossipMailbox) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	for id, t := range g.topics {
		if err := t.Close(); err != nil {
			log.Debugf("REALTIME: leave topic %s: %v", id, err)
		}
	}
	g.topics = nil
	return nil
}
