package domain

import (
	"sync"
	"time"
)

// Member is one live connection inside a room.
type Member struct {
	ConnectionID string
	DisplayName  string
	IdentityID   string
	JoinedAt     time.Time
}

// JoinStatus is the outcome of an AddMember attempt.
type JoinStatus int

const (
	JoinOK JoinStatus = iota
	JoinAlreadyMember
	JoinRoomFull
	JoinBanned
)

// RoomDefaults describes a room to create when it does not exist yet.
type RoomDefaults struct {
	ID          string
	Name        string
	Description string
	Private     bool
	MaxMembers  int
}

// RoomSummary is the public view of a room. The banned set is never exposed.
type RoomSummary struct {
	ID          string
	Name        string
	Description string
	MemberCount int
	MaxMembers  int
}

// Room is a named channel with bounded membership. Each room carries its own
// mutex so that membership checks on one room never serialize traffic on
// another. Capacity and ban checks happen atomically under that mutex.
type Room struct {
	ID          string
	Name        string
	Description string
	Private     bool
	MaxMembers  int

	mu      sync.Mutex
	members []Member
	banned  map[string]string // identity id -> display name
}

func NewRoom(defaults RoomDefaults) *Room {
	return &Room{
		ID:          defaults.ID,
		Name:        defaults.Name,
		Description: defaults.Description,
		Private:     defaults.Private,
		MaxMembers:  defaults.MaxMembers,
		banned:      make(map[string]string),
	}
}

// AddMember admits a connection after the already-member, capacity and ban
// checks, all evaluated under the room lock so concurrent joins cannot both
// slip past a nearly-full room.
func (r *Room) AddMember(m Member) JoinStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitLocked(m)
}

// admitLocked runs the already-member, capacity and ban checks and appends on
// success. Caller holds r.mu.
func (r *Room) admitLocked(m Member) JoinStatus {
	for _, existing := range r.members {
		if existing.ConnectionID == m.ConnectionID {
			return JoinAlreadyMember
		}
	}
	if r.MaxMembers > 0 && len(r.members) >= r.MaxMembers {
		return JoinRoomFull
	}
	if _, ok := r.banned[m.IdentityID]; ok {
		return JoinBanned
	}
	r.members = append(r.members, m)
	return JoinOK
}

// RemoveMember drops the connection from the member set. Returns false when
// the connection was not a member.
func (r *Room) RemoveMember(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connectionID)
}

func (r *Room) removeLocked(connectionID string) bool {
	for i, m := range r.members {
		if m.ConnectionID == connectionID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// MoveMember transfers a connection between two rooms with both room locks
// held, so no reader ever sees the connection in both member sets. The admit
// checks run against the target first; a rejected move leaves the source
// membership untouched. Locks are taken in room-id order so two opposite
// moves cannot deadlock.
func MoveMember(from, to *Room, m Member) JoinStatus {
	first, second := from, to
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if first != second {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	status := to.admitLocked(m)
	if status != JoinOK {
		return status
	}
	from.removeLocked(m.ConnectionID)
	return JoinOK
}

// Members returns a join-ordered snapshot of the member set.
func (r *Room) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Member(nil), r.members...)
}

// MemberConnections returns the connection ids of all current members.
func (r *Room) MemberConnections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		ids = append(ids, m.ConnectionID)
	}
	return ids
}

// Ban removes the identity's connections from the member set and prevents
// future joins. Returns the connection ids that were evicted.
func (r *Room) Ban(identityID, displayName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	kept := r.members[:0]
	for _, m := range r.members {
		if m.IdentityID == identityID {
			evicted = append(evicted, m.ConnectionID)
			continue
		}
		kept = append(kept, m)
	}
	r.members = kept
	r.banned[identityID] = displayName
	return evicted
}

// Unban lifts a ban. Returns false when the identity was not banned.
func (r *Room) Unban(identityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banned[identityID]; !ok {
		return false
	}
	delete(r.banned, identityID)
	return true
}

func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomSummary{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		MemberCount: len(r.members),
		MaxMembers:  r.MaxMembers,
	}
}
