// Package domain contains core concepts of the presence and message
// synchronization engine. No runtime, network, or storage logic lives here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a stable reference to a user. In durable mode it survives
// reconnection; in ephemeral mode it is derived from the connection and a
// reconnecting guest gets a fresh one.
type Identity struct {
	ID          string
	DisplayName string
}

// Content models the tagged-variant lifecycle of message text. Original is
// set once, the first time the current text diverges from what was sent.
type Content struct {
	Current   string
	Original  string
	IsEdited  bool
	IsDeleted bool
}

const deletedPlaceholder = "This message has been deleted"

// ReactionUser identifies one identity inside a reaction's user set.
type ReactionUser struct {
	ID          string
	DisplayName string
}

// Reactions maps an emoji to the identities that reacted with it. A given
// identity appears at most once per emoji.
type Reactions map[string][]ReactionUser

// Clone returns a deep copy safe to hand to broadcasters.
func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		out[emoji] = append([]ReactionUser(nil), users...)
	}
	return out
}

// ReadEntry records one identity having read a message.
type ReadEntry struct {
	ID          string
	DisplayName string
	At          time.Time
}

// Attachment carries file metadata only; storage and serving of the bytes is
// out of scope. MimeType is sniffed from content, never trusted from clients.
type Attachment struct {
	Name     string
	Size     int64
	MimeType string
}

// ReactionChange reports the outcome of a reaction toggle.
type ReactionChange string

const (
	ReactionAdded   ReactionChange = "added"
	ReactionRemoved ReactionChange = "removed"
)

// Message is an append-only chat event. Only reactions, readBy and the
// edit/soft-delete content transitions mutate it after creation.
//
// Exactly one of RoomID / Recipient is set: IsPrivate == true implies
// Recipient is present and RoomID is empty, and vice versa.
type Message struct {
	ID         uuid.UUID
	Content    Content
	Sender     Identity
	RoomID     string
	Recipient  string
	IsPrivate  bool
	Attachment *Attachment
	Reactions  Reactions
	ReadBy     []ReadEntry
	CreatedAt  time.Time
	EditedAt   *time.Time
	DeletedAt  *time.Time
}

// NewRoomMessage builds a room-scoped message. Content must already be
// sanitized by the store.
func NewRoomMessage(roomID, content string, sender Identity, at time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Content:   Content{Current: content},
		Sender:    sender,
		RoomID:    roomID,
		Reactions: make(Reactions),
		CreatedAt: at,
	}
}

// NewPrivateMessage builds a message addressed to a single identity.
func NewPrivateMessage(recipientID, content string, sender Identity, at time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Content:   Content{Current: content},
		Sender:    sender,
		Recipient: recipientID,
		IsPrivate: true,
		Reactions: make(Reactions),
		CreatedAt: at,
	}
}

// ToggleReaction flips user's membership in the emoji's user set. Toggling
// twice with the same identity restores the prior state exactly.
func (m *Message) ToggleReaction(emoji string, user ReactionUser) ReactionChange {
	if m.Reactions == nil {
		m.Reactions = make(Reactions)
	}
	users := m.Reactions[emoji]
	for i, u := range users {
		if u.ID == user.ID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return ReactionRemoved
		}
	}
	m.Reactions[emoji] = append(users, user)
	return ReactionAdded
}

// MarkRead appends reader to the readBy set if absent. Returns false when the
// reader was already present, making repeated calls a no-op.
func (m *Message) MarkRead(reader Identity, at time.Time) bool {
	for _, e := range m.ReadBy {
		if e.ID == reader.ID {
			return false
		}
	}
	m.ReadBy = append(m.ReadBy, ReadEntry{ID: reader.ID, DisplayName: reader.DisplayName, At: at})
	return true
}

// Edit replaces the current content, preserving the original text once.
func (m *Message) Edit(newContent string, at time.Time) {
	if !m.Content.IsEdited && !m.Content.IsDeleted {
		m.Content.Original = m.Content.Current
	}
	m.Content.Current = newContent
	m.Content.IsEdited = true
	m.EditedAt = &at
}

// SoftDelete tombstones the message. The original text stays reachable via
// Content.Original; stores drop deleted messages from recent and search.
func (m *Message) SoftDelete(at time.Time) {
	if !m.Content.IsEdited && !m.Content.IsDeleted {
		m.Content.Original = m.Content.Current
	}
	m.Content.Current = deletedPlaceholder
	m.Content.IsDeleted = true
	m.DeletedAt = &at
}
