package repositories

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/errors"
)

type userRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// GuestIdentities hands out stable per-displayName guest ids backed by
// BadgerDB, so renames and reconnects keep historical attribution intact.
type GuestIdentities struct {
	db  *badger.DB
	log *slog.Logger
}

var _ contract.IdentityProvider = (*GuestIdentities)(nil)

func NewGuestIdentities(db *badger.DB, log *slog.Logger) *GuestIdentities {
	return &GuestIdentities{db: db, log: log}
}

func (g *GuestIdentities) Resolve(_ context.Context, _ string, displayName string) (domain.Identity, error) {
	var identity domain.Identity
	err := g.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKey(displayName))
		item, err := txn.Get(key)
		switch {
		case err == nil:
			return item.Value(func(val []byte) error {
				var rec userRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				identity = domain.Identity{ID: rec.ID, DisplayName: rec.DisplayName}
				return nil
			})
		case goerrors.Is(err, badger.ErrKeyNotFound):
			rec := userRecord{ID: uuid.NewString(), DisplayName: displayName}
			bytes, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			identity = domain.Identity{ID: rec.ID, DisplayName: rec.DisplayName}
			return txn.Set(key, bytes)
		default:
			return err
		}
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err)
	}
	return identity, nil
}

func (g *GuestIdentities) Forget(string) {}

// EphemeralIdentities derives one fresh identity per connection. A
// reconnecting guest gets a new identity; reconciling it with prior history
// is a documented non-goal of the ephemeral mode.
type EphemeralIdentities struct {
	mu     sync.Mutex
	byConn map[string]domain.Identity
}

var _ contract.IdentityProvider = (*EphemeralIdentities)(nil)

func NewEphemeralIdentities() *EphemeralIdentities {
	return &EphemeralIdentities{byConn: make(map[string]domain.Identity)}
}

func (e *EphemeralIdentities) Resolve(_ context.Context, connectionID, displayName string) (domain.Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if identity, ok := e.byConn[connectionID]; ok {
		identity.DisplayName = displayName
		e.byConn[connectionID] = identity
		return identity, nil
	}
	identity := domain.Identity{ID: "guest_" + uuid.NewString(), DisplayName: displayName}
	e.byConn[connectionID] = identity
	return identity, nil
}

func (e *EphemeralIdentities) Forget(connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byConn, connectionID)
}
