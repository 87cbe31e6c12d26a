package sink

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/domain/event"
	"chatsync/errors"
)

func notice(msg string) event.DomainEvent {
	return event.ErrorNotice{Message: msg, At: time.Now().UTC()}
}

func TestBuffered_DeliversInOrder(t *testing.T) {
	req := require.New(t)
	s := NewBuffered(slog.Default(), 4, 100*time.Millisecond)

	req.NoError(s.Consume(context.Background(), notice("one")))
	req.NoError(s.Consume(context.Background(), notice("two")))

	first := <-s.Events()
	second := <-s.Events()
	req.Equal("one", first.(event.ErrorNotice).Message)
	req.Equal("two", second.(event.ErrorNotice).Message)
}

func TestBuffered_BackpressureAfterTimeout(t *testing.T) {
	req := require.New(t)
	s := NewBuffered(slog.Default(), 1, 50*time.Millisecond)

	req.NoError(s.Consume(context.Background(), notice("fits")))

	// Nobody drains: the second delivery must give up after the timeout.
	start := time.Now()
	err := s.Consume(context.Background(), notice("overflow"))
	req.ErrorIs(err, errors.ErrBackpressure)
	req.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
}

func TestBuffered_ContextCancellation(t *testing.T) {
	req := require.New(t)
	s := NewBuffered(slog.Default(), 1, time.Second)
	req.NoError(s.Consume(context.Background(), notice("fits")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Consume(ctx, notice("late"))
	req.ErrorIs(err, context.Canceled)
}

func TestBuffered_ClosedIsSilentNoop(t *testing.T) {
	req := require.New(t)
	s := NewBuffered(slog.Default(), 1, 10*time.Millisecond)
	s.Close()

	req.NoError(s.Consume(context.Background(), notice("dropped")))
	select {
	case <-s.Events():
		req.Fail("no event should be delivered after Close")
	default:
	}
}
