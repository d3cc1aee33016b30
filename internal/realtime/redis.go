package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisMailbox uses one Redis PUBLISH/SUBSCRIBE channel per identity. It
// lets peers that cannot reach each other over libp2p signal through a
// shared broker.
type RedisMailbox struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisMailbox connects to Redis and verifies the connection.
func NewRedisMailbox(ctx context.Context, opts *redis.Options, prefix string) (*RedisMailbox, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Addr, err)
	}
	log.Infof("REALTIME: redis connected at %s", opts.Addr)
	return &RedisMailbox{rdb: rdb, prefix: prefix}, nil
}

func (r *RedisMailbox) Publish(ctx context.Context, to string, data []byte) error {
	if to == "" {
		return ErrEmptyIdentity
	}
	return r.rdb.Publish(ctx, Topic(r.prefix, to), data).Err()
}

func (r *RedisMailbox) Subscribe(ctx context.Context, identity string) (<-chan []byte, func(), error) {
	if identity == "" {
		return nil, nil, ErrEmptyIdentity
	}
	ps := r.rdb.Subscribe(ctx, Topic(r.prefix, identity))
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", identity, err)
	}

	out := make(chan []byte, mailboxBuffer)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				log.Warnf("REALTIME: mailbox %s full, message dropped", identity)
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() { _ = ps.Close() })
	}, nil
}

func (r *RedisMailbox) Close() error { return r.rdb.Close() }
