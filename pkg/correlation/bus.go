// Package correlation matches externally published messages to suspended
// workflow executors by (messageRef, correlationKey).
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultBufferTTL is how long an early message (published before anyone
// waits for it) is kept before being dropped.
const DefaultBufferTTL = 300 * time.Second

// ErrDuplicateWaiter is the sentinel wrapped when a second executor tries to
// wait on a (messageRef, correlationKey) pair that already has a waiter.
var ErrDuplicateWaiter = errors.New("duplicate correlation waiter")

// DuplicateWaiterError identifies the contested correlation pair.
type DuplicateWaiterError struct {
	MessageRef     string
	CorrelationKey string
}

func (e *DuplicateWaiterError) Error() string {
	return fmt.Sprintf("correlation (%s, %s) already has a waiter", e.MessageRef, e.CorrelationKey)
}

func (e *DuplicateWaiterError) Unwrap() error { return ErrDuplicateWaiter }

type pairKey struct {
	ref string
	key string
}

type bufferedMessage struct {
	payload   map[string]any
	expiresAt time.Time
}

// Stats is a point-in-time view of the bus, exposed on the debug endpoint.
type Stats struct {
	ActiveWaiters  int   `json:"activeWaiters"`
	BufferedCount  int   `json:"bufferedCount"`
	DeliveredTotal int64 `json:"deliveredTotal"`
	BufferedTotal  int64 `json:"bufferedTotal"`
	ExpiredTotal   int64 `json:"expiredTotal"`
}

// Bus delivers each published message to at most one waiter, exactly once.
// Messages published before their waiter arrives are buffered until the TTL
// expires.
type Bus struct {
	mu       sync.Mutex
	waiters  map[pairKey]chan map[string]any
	buffered map[pairKey]bufferedMessage
	ttl      time.Duration
	logger   *slog.Logger

	deliveredTotal int64
	bufferedTotal  int64
	expiredTotal   int64
}

func NewBus(ttl time.Duration, logger *slog.Logger) *Bus {
	if ttl <= 0 {
		ttl = DefaultBufferTTL
	}
	return &Bus{
		waiters:  make(map[pairKey]chan map[string]any),
		buffered: make(map[pairKey]bufferedMessage),
		ttl:      ttl,
		logger:   logger.With("component", "correlation"),
	}
}

// Wait blocks until a message for (messageRef, correlationKey) is published
// or ctx is done. A message buffered before the call resolves immediately.
// Only one waiter per pair is allowed; a second call fails with
// ErrDuplicateWaiter.
func (b *Bus) Wait(ctx context.Context, messageRef, correlationKey string) (map[string]any, error) {
	k := pairKey{ref: messageRef, key: correlationKey}

	b.mu.Lock()
	if msg, ok := b.buffered[k]; ok {
		delete(b.buffered, k)
		if time.Now().Before(msg.expiresAt) {
			b.deliveredTotal++
			b.mu.Unlock()
			b.logger.Info("delivered buffered message", "messageRef", messageRef, "correlationKey", correlationKey)
			return msg.payload, nil
		}
		b.expiredTotal++
	}
	if _, ok := b.waiters[k]; ok {
		b.mu.Unlock()
		return nil, &DuplicateWaiterError{MessageRef: messageRef, CorrelationKey: correlationKey}
	}
	ch := make(chan map[string]any, 1)
	b.waiters[k] = ch
	b.mu.Unlock()

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		b.mu.Lock()
		// Publish may have won the race after ctx fired; prefer the message.
		delete(b.waiters, k)
		b.mu.Unlock()
		select {
		case payload := <-ch:
			return payload, nil
		default:
		}
		return nil, ctx.Err()
	}
}

// Publish routes a message to the waiter for (messageRef, correlationKey),
// or buffers it when no waiter exists yet. Returns true when a waiter
// received it immediately.
func (b *Bus) Publish(messageRef, correlationKey string, payload map[string]any) bool {
	k := pairKey{ref: messageRef, key: correlationKey}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.waiters[k]; ok {
		delete(b.waiters, k)
		ch <- payload
		b.deliveredTotal++
		b.logger.Info("delivered message to waiter", "messageRef", messageRef, "correlationKey", correlationKey)
		return true
	}

	b.buffered[k] = bufferedMessage{payload: payload, expiresAt: time.Now().Add(b.ttl)}
	b.bufferedTotal++
	b.logger.Info("buffered early message", "messageRef", messageRef, "correlationKey", correlationKey, "ttl", b.ttl)
	return false
}

// Run sweeps expired buffered messages until ctx is done.
func (b *Bus) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bus) sweep() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, msg := range b.buffered {
		if now.After(msg.expiresAt) {
			delete(b.buffered, k)
			b.expiredTotal++
			b.logger.Warn("dropped expired buffered message", "messageRef", k.ref, "correlationKey", k.key)
		}
	}
}

// Stats returns current counters for the debug endpoint.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		ActiveWaiters:  len(b.waiters),
		BufferedCount:  len(b.buffered),
		DeliveredTotal: b.deliveredTotal,
		BufferedTotal:  b.bufferedTotal,
		ExpiredTotal:   b.expiredTotal,
	}
}
