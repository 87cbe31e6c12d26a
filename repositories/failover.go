package repositories

import (
	"context"
	goerrors "errors"
	"log/slog"
	"sync/atomic"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/errors"
	"chatsync/observability"
)

// Failover fronts the durable backend with a one-way degrade to the
// ephemeral one. The first ErrBackendUnavailable observed flips the switch
// for the remainder of the process lifetime and the failing call is replayed
// against the ephemeral backend, so callers never see the transition. The
// engine stays unaware of which side is active.
type Failover struct {
	log      *slog.Logger
	metrics  *observability.Metrics
	durable  contract.MessageStore
	fallback contract.MessageStore

	durableIDs  contract.IdentityProvider
	fallbackIDs contract.IdentityProvider

	degraded atomic.Bool
}

var (
	_ contract.MessageStore     = (*Failover)(nil)
	_ contract.IdentityProvider = (*Failover)(nil)
)

func NewFailover(log *slog.Logger, metrics *observability.Metrics,
	durable, fallback contract.MessageStore,
	durableIDs, fallbackIDs contract.IdentityProvider) *Failover {
	return &Failover{
		log:         log,
		metrics:     metrics,
		durable:     durable,
		fallback:    fallback,
		durableIDs:  durableIDs,
		fallbackIDs: fallbackIDs,
	}
}

// Degraded reports whether the ephemeral backend is active.
func (f *Failover) Degraded() bool { return f.degraded.Load() }

// degrade flips to the ephemeral backend. Reports true when this call did
// the flip (losers of the race just follow).
func (f *Failover) degrade(err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.log.Warn("durable backend unavailable, degrading to ephemeral storage for the rest of the process", "error", err)
		f.metrics.SetDegraded(true)
	}
}

// retryable reports whether the call should be replayed ephemeral-side.
func (f *Failover) retryable(err error) bool {
	if err == nil || !goerrors.Is(err, errors.ErrBackendUnavailable) {
		return false
	}
	f.degrade(err)
	return true
}

func (f *Failover) Append(ctx context.Context, scope contract.Scope, content string, sender domain.Identity, att *domain.Attachment) (domain.Message, error) {
	if !f.degraded.Load() {
		msg, err := f.durable.Append(ctx, scope, content, sender, att)
		if !f.retryable(err) {
			return msg, err
		}
	}
	return f.fallback.Append(ctx, scope, content, sender, att)
}

func (f *Failover) Recent(ctx context.Context, roomID string, limit, offset int) ([]domain.Message, error) {
	if !f.degraded.Load() {
		msgs, err := f.durable.Recent(ctx, roomID, limit, offset)
		if !f.retryable(err) {
			return msgs, err
		}
	}
	return f.fallback.Recent(ctx, roomID, limit, offset)
}

func (f *Failover) Get(ctx context.Context, messageID string) (domain.Message, error) {
	if !f.degraded.Load() {
		msg, err := f.durable.Get(ctx, messageID)
		if !f.retryable(err) {
			return msg, err
		}
	}
	return f.fallback.Get(ctx, messageID)
}

func (f *Failover) ToggleReaction(ctx context.Context, messageID, emoji string, user domain.ReactionUser) (domain.ReactionChange, domain.Message, error) {
	if !f.degraded.Load() {
		change, msg, err := f.durable.ToggleReaction(ctx, messageID, emoji, user)
		if !f.retryable(err) {
			return change, msg, err
		}
	}
	return f.fallback.ToggleReaction(ctx, messageID, emoji, user)
}

func (f *Failover) MarkRead(ctx context.Context, messageID string, reader domain.Identity) (domain.Message, bool, error) {
	if !f.degraded.Load() {
		msg, changed, err := f.durable.MarkRead(ctx, messageID, reader)
		if !f.retryable(err) {
			return msg, changed, err
		}
	}
	return f.fallback.MarkRead(ctx, messageID, reader)
}

func (f *Failover) Edit(ctx context.Context, messageID, newContent string, requester domain.Identity) (domain.Message, error) {
	if !f.degraded.Load() {
		msg, err := f.durable.Edit(ctx, messageID, newContent, requester)
		if !f.retryable(err) {
			return msg, err
		}
	}
	return f.fallback.Edit(ctx, messageID, newContent, requester)
}

func (f *Failover) SoftDelete(ctx context.Context, messageID string, requester domain.Identity) (domain.Message, error) {
	if !f.degraded.Load() {
		msg, err := f.durable.SoftDelete(ctx, messageID, requester)
		if !f.retryable(err) {
			return msg, err
		}
	}
	return f.fallback.SoftDelete(ctx, messageID, requester)
}

func (f *Failover) Search(ctx context.Context, query, roomID string, limit int) ([]domain.Message, error) {
	if !f.degraded.Load() {
		msgs, err := f.durable.Search(ctx, query, roomID, limit)
		if !f.retryable(err) {
			return msgs, err
		}
	}
	return f.fallback.Search(ctx, query, roomID, limit)
}

func (f *Failover) PrivateHistory(ctx context.Context, identityA, identityB string, limit int) ([]domain.Message, error) {
	if !f.degraded.Load() {
		msgs, err := f.durable.PrivateHistory(ctx, identityA, identityB, limit)
		if !f.retryable(err) {
			return msgs, err
		}
	}
	return f.fallback.PrivateHistory(ctx, identityA, identityB, limit)
}

func (f *Failover) Resolve(ctx context.Context, connectionID, displayName string) (domain.Identity, error) {
	if !f.degraded.Load() {
		identity, err := f.durableIDs.Resolve(ctx, connectionID, displayName)
		if !f.retryable(err) {
			return identity, err
		}
	}
	return f.fallbackIDs.Resolve(ctx, connectionID, displayName)
}

func (f *Failover) Forget(connectionID string) {
	f.durableIDs.Forget(connectionID)
	f.fallbackIDs.Forget(connectionID)
}
