// Package realtime carries call signaling between peers. Every transport
// exposes the same per-identity mailbox: Publish bytes to an identity,
// Subscribe to receive what others published to you. Delivery is
// best-effort and at-most-once; per-sender order is kept.
package realtime

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("realtime")

// mailboxBuffer is the per-subscriber queue depth. A subscriber that falls
// this far behind loses messages rather than stalling the transport.
const mailboxBuffer = 64

var (
	ErrClosed        = errors.New("realtime: mailbox closed")
	ErrEmptyIdentity = errors.New("realtime: empty identity")
)

// Mailbox is a per-identity publish/subscribe transport.
type Mailbox interface {
	// Publish delivers data to every current subscriber of to. Publishing to
	// an identity nobody subscribed to is not an error.
	Publish(ctx context.Context, to string, data []byte) error
	// Subscribe opens the mailbox of identity. The channel is closed when
	// cancel is called or the transport shuts down.
	Subscribe(ctx context.Context, identity string) (<-chan []byte, func(), error)
	Close() error
}

// Topic returns the channel/topic name used for identity under prefix.
func Topic(prefix, identity string) string {
	return prefix + "/" + identity
}
