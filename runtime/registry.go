// Package runtime hosts the live side of the engine: the connection
// registry, the presence broadcaster, and the sync engine that ties event
// handling to the stores.
package runtime

import (
	"sync"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/errors"
)

type entry struct {
	session domain.Session
	sink    contract.EventSink
	typing  bool
}

// Registry owns every live session: user identity, current room, outbound
// sink and the transient typing flag. One registry per engine instance; no
// process-wide state. All operations are O(1) map work under a RWMutex.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Register creates the session for a new connection. A connection must
// unregister before it can register again.
func (r *Registry) Register(session domain.Session, sink contract.EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ConnectionID]; ok {
		return errors.ErrDuplicateConnection
	}
	r.sessions[session.ConnectionID] = &entry{session: session, sink: sink}
	return nil
}

// Lookup returns the session for a connection. ErrUnknownSession is an
// expected race with disconnect; callers drop the event rather than failing.
func (r *Registry) Lookup(connectionID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[connectionID]
	if !ok {
		return domain.Session{}, errors.ErrUnknownSession
	}
	return e.session, nil
}

func (r *Registry) SetRoom(connectionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[connectionID]
	if !ok {
		return errors.ErrUnknownSession
	}
	e.session.RoomID = roomID
	return nil
}

func (r *Registry) SetTyping(connectionID string, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[connectionID]
	if !ok {
		return errors.ErrUnknownSession
	}
	e.typing = typing
	return nil
}

// Unregister destroys the session and returns its last state. Idempotent
// from the caller's perspective: a second call reports ErrUnknownSession.
func (r *Registry) Unregister(connectionID string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[connectionID]
	if !ok {
		return domain.Session{}, errors.ErrUnknownSession
	}
	delete(r.sessions, connectionID)
	return e.session, nil
}

// Sink resolves a single connection's sink.
func (r *Registry) Sink(connectionID string) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[connectionID]
	if !ok {
		return nil, false
	}
	return e.sink, true
}

// SinksFor resolves sinks for the given connections, silently skipping any
// that disconnected since the caller snapshotted the membership.
func (r *Registry) SinksFor(connectionIDs []string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sinks := make([]contract.EventSink, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if e, ok := r.sessions[id]; ok {
			sinks = append(sinks, e.sink)
		}
	}
	return sinks
}

// ConnectionsByIdentity returns the live connections bound to an identity.
func (r *Registry) ConnectionsByIdentity(identityID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.sessions {
		if e.session.Identity.ID == identityID {
			ids = append(ids, id)
		}
	}
	return ids
}

// TypingNames returns the display names of the given connections that are
// currently typing, in the order the connections were supplied.
func (r *Registry) TypingNames(connectionIDs []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, id := range connectionIDs {
		if e, ok := r.sessions[id]; ok && e.typing {
			names = append(names, e.session.DisplayName)
		}
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
