// Package sink provides per-connection event delivery channels.
package sink

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"chatsync/domain/event"
	"chatsync/errors"
)

// Buffered is one connection's outbound queue. The transport goroutine that
// owns the connection drains Events and writes to the wire.
//
// Consume never blocks longer than the delivery timeout, and becomes a
// silent no-op once Close has been called, so fan-out to a connection that
// disconnected mid-flight cannot fail other recipients.
type Buffered struct {
	log     *slog.Logger
	events  chan event.DomainEvent
	timeout time.Duration
	closed  atomic.Bool
}

func NewBuffered(log *slog.Logger, bufferSize int, timeout time.Duration) *Buffered {
	return &Buffered{
		log:     log,
		events:  make(chan event.DomainEvent, bufferSize),
		timeout: timeout,
	}
}

// Events is drained by the owning transport goroutine.
func (s *Buffered) Events() <-chan event.DomainEvent { return s.events }

func (s *Buffered) Consume(ctx context.Context, e event.DomainEvent) error {
	if s.closed.Load() {
		return nil
	}
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Buffer full: wait up to the delivery timeout before giving up on
	// this recipient only.
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.log.Debug("dropping event for slow connection", "event", e.Name())
		return errors.ErrBackpressure
	}
}

// Close marks the sink dead. The channel itself is never closed; concurrent
// Consume calls simply stop being delivered.
func (s *Buffered) Close() {
	s.closed.Store(true)
}
