//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chatsync/domain"
	"chatsync/domain/event"
)

// EventSink is one connection's outbound channel. Consume must be safe to
// call after the connection is gone; delivery then becomes a silent no-op.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Scope addresses a message: exactly one of RoomID / Recipient is set.
type Scope struct {
	RoomID    string
	Recipient string
}

func RoomScope(roomID string) Scope       { return Scope{RoomID: roomID} }
func PrivateScope(recipient string) Scope { return Scope{Recipient: recipient} }

func (s Scope) IsPrivate() bool { return s.Recipient != "" }

// MessageStore is the single contract in front of the durable and ephemeral
// backends; the engine never learns which one is active.
//
// Append sanitizes content before storage. Recent fetches the newest limit
// messages after skipping offset, returned in chronological ascending order.
// ToggleReaction and MarkRead are idempotent under repeated identical input
// and atomic per message. Search is a case-insensitive substring match,
// newest first; private messages never appear in a global search.
type MessageStore interface {
	Append(ctx context.Context, scope Scope, content string, sender domain.Identity, att *domain.Attachment) (domain.Message, error)
	Recent(ctx context.Context, roomID string, limit, offset int) ([]domain.Message, error)
	Get(ctx context.Context, messageID string) (domain.Message, error)
	ToggleReaction(ctx context.Context, messageID, emoji string, user domain.ReactionUser) (domain.ReactionChange, domain.Message, error)
	MarkRead(ctx context.Context, messageID string, reader domain.Identity) (domain.Message, bool, error)
	Edit(ctx context.Context, messageID, newContent string, requester domain.Identity) (domain.Message, error)
	SoftDelete(ctx context.Context, messageID string, requester domain.Identity) (domain.Message, error)
	Search(ctx context.Context, query, roomID string, limit int) ([]domain.Message, error)
	PrivateHistory(ctx context.Context, identityA, identityB string, limit int) ([]domain.Message, error)
}

// RoomDirectory tracks rooms and their live membership. Membership checks are
// atomic with respect to a single room; there is no directory-wide lock
// around member mutation. MoveMember is the one two-room operation: it swaps
// membership under both room locks, so a connection is never observable in
// two member sets at once, and a rejected move leaves the source untouched.
type RoomDirectory interface {
	EnsureRoom(ctx context.Context, defaults domain.RoomDefaults) (*domain.Room, error)
	Lookup(roomID string) (*domain.Room, bool)
	AddMember(ctx context.Context, roomID string, m domain.Member) (domain.JoinStatus, error)
	MoveMember(ctx context.Context, fromRoomID, toRoomID string, m domain.Member) (domain.JoinStatus, error)
	RemoveMember(ctx context.Context, roomID, connectionID string) error
	ListMembers(roomID string) []domain.Member
	ListPublicRooms() []domain.RoomSummary
}

// IdentityProvider resolves the identity behind a connection. The durable
// variant hands out stable per-name guest ids; the ephemeral variant derives
// a fresh id per connection. Forget releases per-connection state.
type IdentityProvider interface {
	Resolve(ctx context.Context, connectionID, displayName string) (domain.Identity, error)
	Forget(connectionID string)
}

// Worker runs until its context is cancelled. Workers don't protect
// themselves; the supervisor recovers their panics.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Stop()
}

// GetWorkerName reports a worker's concrete type name for logs.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
