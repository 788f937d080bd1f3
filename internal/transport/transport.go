// Package transport moves opaque payloads over named broadcast channels.
//
// Delivery is best effort: at-least-once when it arrives at all, unordered
// across senders, and a sender's own publishes are looped back to it.
// Callers compensate with periodic full-state resends, not per-message acks.
package transport

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("transport closed")

// Handler receives one payload. It runs on a transport-owned goroutine.
type Handler func(payload []byte)

// Unsubscribe stops a subscription and waits for its handler to return. It
// must not be called from that handler.
type Unsubscribe func() error

type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, h Handler) (Unsubscribe, error)
	Close() error
}

// MaxPayload bounds a single message on every transport.
const MaxPayload = 64 << 10

// backoff doubles the wait between reconnect attempts up to a ceiling.
type backoff struct {
	next, max time.Duration
}

func newBackoff() *backoff {
	return &backoff{next: 250 * time.Millisecond, max: 5 * time.Second}
}

func (b *backoff) wait(ctx context.Context) bool {
	t := time.NewTimer(b.next)
	defer t.Stop()
	b.next = min(b.next*2, b.max)
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (b *backoff) reset() {
	b.next = 250 * time.Millisecond
}
