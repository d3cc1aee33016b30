package realtime

import (
	"context"
	"sync"
)

// Hub is an in-process Mailbox. Two controllers sharing a Hub can call each
// other without a network, which is what the loopback transport and the
// tests use.
type Hub struct {
	mu     sync.RWMutex
	boxes  map[string]map[chan []byte]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{boxes: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Publish(_ context.Context, to string, data []byte) error {
	if to == "" {
		return ErrEmptyIdentity
	}
	msg := append([]byte(nil), data...)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for ch := range h.boxes[to] {
		select {
		case ch <- msg:
		default:
			log.Warnf("REALTIME: mailbox %s full, message dropped", to)
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, identity string) (<-chan []byte, func(), error) {
	if identity == "" {
		return nil, nil, ErrEmptyIdentity
	}
	ch := make(chan []byte, mailboxBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrClosed
	}
	box := h.boxes[identity]
	if box == nil {
		box = make(map[chan []byte]struct{})
		h.boxes[identity] = box
	}
	box[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if box, ok := h.boxes[identity]; ok {
			if _, ok := box[ch]; ok {
				delete(box, ch)
				close(ch)
			}
			if len(box) == 0 {
				delete(h.boxes, identity)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

// Subscribers returns the number of open subscriptions for identity.
func (h *Hub) Subscribers(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boxes[identity])
}

// Close closes every subscription. Further Publish/Subscribe calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, box := range h.boxes {
		for ch := range box {
			close(ch)
		}
	}
	h.boxes = nil
	return nil
}
