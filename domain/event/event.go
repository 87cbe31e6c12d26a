// Package event defines the outbound events pushed to connections.
// Event names mirror the wire-level event channel vocabulary.
package event

import (
	"time"

	"chatsync/domain"
)

// DomainEvent is anything deliverable to a connection's sink.
type DomainEvent interface {
	Name() string
	OccurredAt() time.Time
}

// History is the ordered (chronological ascending) recent-message snapshot
// pushed to a connection entering a room.
type History struct {
	RoomID   string
	Messages []domain.Message
	At       time.Time
}

func (e History) Name() string          { return "message_history" }
func (e History) OccurredAt() time.Time { return e.At }

// RoomList carries the public room summaries.
type RoomList struct {
	Rooms []domain.RoomSummary
	At    time.Time
}

func (e RoomList) Name() string          { return "room_list" }
func (e RoomList) OccurredAt() time.Time { return e.At }

// MemberList is a full membership snapshot for one room, not a delta.
type MemberList struct {
	RoomID  string
	Members []domain.Member
	At      time.Time
}

func (e MemberList) Name() string          { return "user_list" }
func (e MemberList) OccurredAt() time.Time { return e.At }

// MessageReceived fans a room message out to the room audience.
type MessageReceived struct {
	Message domain.Message
	At      time.Time
}

func (e MessageReceived) Name() string          { return "receive_message" }
func (e MessageReceived) OccurredAt() time.Time { return e.At }

// PrivateMessage is delivered to the sender and recipient only.
type PrivateMessage struct {
	Message domain.Message
	At      time.Time
}

func (e PrivateMessage) Name() string          { return "private_message" }
func (e PrivateMessage) OccurredAt() time.Time { return e.At }

// ReactionUpdated carries the full reaction map after a toggle.
type ReactionUpdated struct {
	MessageID string
	Reactions domain.Reactions
	At        time.Time
}

func (e ReactionUpdated) Name() string          { return "message_reaction_updated" }
func (e ReactionUpdated) OccurredAt() time.Time { return e.At }

// ReadReceipt goes to the message sender only.
type ReadReceipt struct {
	MessageID string
	Reader    string
	At        time.Time
}

func (e ReadReceipt) Name() string          { return "message_read" }
func (e ReadReceipt) OccurredAt() time.Time { return e.At }

// JoinNotice tells a room that a connection joined.
type JoinNotice struct {
	RoomID       string
	ConnectionID string
	DisplayName  string
	At           time.Time
}

func (e JoinNotice) Name() string          { return "user_joined" }
func (e JoinNotice) OccurredAt() time.Time { return e.At }

// LeaveNotice tells a room that a connection left.
type LeaveNotice struct {
	RoomID       string
	ConnectionID string
	DisplayName  string
	At           time.Time
}

func (e LeaveNotice) Name() string          { return "user_left" }
func (e LeaveNotice) OccurredAt() time.Time { return e.At }

// TypingSnapshot lists who is typing in one room right now.
type TypingSnapshot struct {
	RoomID string
	Names  []string
	At     time.Time
}

func (e TypingSnapshot) Name() string          { return "typing_users" }
func (e TypingSnapshot) OccurredAt() time.Time { return e.At }

// MessageEdited carries the updated message to its audience.
type MessageEdited struct {
	Message domain.Message
	At      time.Time
}

func (e MessageEdited) Name() string          { return "message_edited" }
func (e MessageEdited) OccurredAt() time.Time { return e.At }

// MessageDeleted announces a soft delete to the message's audience.
type MessageDeleted struct {
	MessageID string
	RoomID    string
	At        time.Time
}

func (e MessageDeleted) Name() string          { return "message_deleted" }
func (e MessageDeleted) OccurredAt() time.Time { return e.At }

// ErrorNotice is reported to the originating caller only, never broadcast.
type ErrorNotice struct {
	Message string
	At      time.Time
}

func (e ErrorNotice) Name() string          { return "error" }
func (e ErrorNotice) OccurredAt() time.Time { return e.At }
