package runtime

import (
	"context"
	goerrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/domain/event"
	"chatsync/errors"
	"chatsync/observability"
	"chatsync/sink"
)

// DegradedReporter exposes whether the storage layer has fallen back to its
// ephemeral backend. Satisfied by the failover store; nil means never degraded.
type DegradedReporter interface {
	Degraded() bool
}

// EngineConfig carries the tunables of one engine instance.
type EngineConfig struct {
	HistoryLimit   int
	MaxRoomMembers int
	SendRateLimit  rate.Limit
	SendBurst      int
	SinkBufferSize int
	SinkTimeout    time.Duration
}

// Ack confirms a stored message to its sender.
type Ack struct {
	MessageID string
	CreatedAt time.Time
}

// SyncEngine is the single entry point for connection events. It owns no
// transport: callers hand it a connection id plus an EventSink and it keeps
// presence, fan-out and storage consistent from there.
type SyncEngine struct {
	log         *slog.Logger
	cfg         EngineConfig
	validate    *validator.Validate
	registry    *Registry
	broadcaster *Broadcaster
	store       contract.MessageStore
	rooms       contract.RoomDirectory
	identities  contract.IdentityProvider
	degraded    DegradedReporter
	metrics     *observability.Metrics

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

func NewSyncEngine(
	log *slog.Logger,
	cfg EngineConfig,
	registry *Registry,
	broadcaster *Broadcaster,
	store contract.MessageStore,
	rooms contract.RoomDirectory,
	identities contract.IdentityProvider,
	degraded DegradedReporter,
	metrics *observability.Metrics,
) *SyncEngine {
	return &SyncEngine{
		log:         log,
		cfg:         cfg,
		validate:    newValidator(),
		registry:    registry,
		broadcaster: broadcaster,
		store:       store,
		rooms:       rooms,
		identities:  identities,
		degraded:    degraded,
		metrics:     metrics,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Connect is the transport entry point: it builds the connection's buffered
// event feed and joins in one step. The transport drains the returned sink's
// Events channel, and closes it plus calls Disconnect when the connection
// goes away.
func (e *SyncEngine) Connect(ctx context.Context, req JoinRequest) (*sink.Buffered, error) {
	s := sink.NewBuffered(e.log, e.cfg.SinkBufferSize, e.cfg.SinkTimeout)
	if err := e.Join(ctx, req, s); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Join admits a connection into a room. On success the joiner receives the
// room's recent history and the public room list, and everyone already in the
// room sees the join notice plus a fresh member snapshot.
func (e *SyncEngine) Join(ctx context.Context, req JoinRequest, sink contract.EventSink) error {
	if err := validateJoin(e.validate, req); err != nil {
		return err
	}

	identity, err := e.identities.Resolve(ctx, req.ConnectionID, req.DisplayName)
	if err != nil {
		return err
	}

	room, err := e.rooms.EnsureRoom(ctx, domain.RoomDefaults{
		ID:         req.RoomID,
		Name:       req.RoomID,
		MaxMembers: e.cfg.MaxRoomMembers,
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	session := domain.Session{
		ConnectionID: req.ConnectionID,
		DisplayName:  req.DisplayName,
		Identity:     identity,
		RoomID:       room.ID,
		JoinedAt:     now,
	}
	if err := e.registry.Register(session, sink); err != nil {
		return err
	}

	status, err := e.rooms.AddMember(ctx, room.ID, domain.Member{
		ConnectionID: req.ConnectionID,
		DisplayName:  req.DisplayName,
		IdentityID:   identity.ID,
		JoinedAt:     now,
	})
	if err != nil || status != domain.JoinOK {
		// Leave no half-joined session behind.
		_, _ = e.registry.Unregister(req.ConnectionID)
		e.identities.Forget(req.ConnectionID)
		if err != nil {
			return err
		}
		return joinError(status)
	}

	e.metrics.SetConnections(e.registry.Len())

	e.pushRoomEntrySnapshots(ctx, req.ConnectionID, room.ID)
	e.broadcaster.AnnounceJoin(ctx, room.ID, req.ConnectionID, req.DisplayName)
	e.broadcaster.PushMemberList(ctx, room.ID)

	e.log.Info("connection joined",
		"connection_id", req.ConnectionID,
		"display_name", req.DisplayName,
		"room", room.ID)
	return nil
}

func joinError(status domain.JoinStatus) error {
	switch status {
	case domain.JoinRoomFull:
		return errors.ErrRoomFull
	case domain.JoinBanned:
		return errors.ErrBanned
	case domain.JoinAlreadyMember:
		return errors.ErrDuplicateConnection
	default:
		return nil
	}
}

// pushRoomEntrySnapshots sends a connection the state it needs on entering a
// room: recent history in chronological order plus the public room list.
func (e *SyncEngine) pushRoomEntrySnapshots(ctx context.Context, connectionID, roomID string) {
	now := time.Now().UTC()
	history, err := e.store.Recent(ctx, roomID, e.cfg.HistoryLimit, 0)
	if err != nil {
		e.log.Warn("history unavailable", "room", roomID, "error", err)
		history = nil
	}
	e.broadcaster.ToConnection(ctx, connectionID, event.History{RoomID: roomID, Messages: history, At: now})
	e.broadcaster.ToConnection(ctx, connectionID, event.RoomList{Rooms: e.rooms.ListPublicRooms(), At: now})
}

// Send appends a room message and fans it out to the sender's current room.
func (e *SyncEngine) Send(ctx context.Context, connectionID, content string, att *domain.Attachment) (Ack, error) {
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("send", connectionID)
		return Ack{}, err
	}
	if !e.allowSend(connectionID) {
		return Ack{}, errors.ErrRateLimited
	}

	msg, err := e.store.Append(ctx, contract.RoomScope(session.RoomID), content, session.Identity, att)
	if err != nil {
		return Ack{}, err
	}
	e.metrics.IncMessages()

	e.broadcaster.ToRoom(ctx, session.RoomID, event.MessageReceived{Message: msg, At: time.Now().UTC()})
	return Ack{MessageID: msg.ID.String(), CreatedAt: msg.CreatedAt}, nil
}

// SendPrivate appends a private message and delivers it to the sender plus
// every live connection of the recipient. The recipient may be addressed by
// connection id or by identity id.
func (e *SyncEngine) SendPrivate(ctx context.Context, connectionID, recipient, content string) (Ack, error) {
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("send_private", connectionID)
		return Ack{}, err
	}
	if !e.allowSend(connectionID) {
		return Ack{}, errors.ErrRateLimited
	}

	recipientID := recipient
	if recipientSession, err := e.registry.Lookup(recipient); err == nil {
		recipientID = recipientSession.Identity.ID
	}

	msg, err := e.store.Append(ctx, contract.PrivateScope(recipientID), content, session.Identity, nil)
	if err != nil {
		return Ack{}, err
	}
	e.metrics.IncPrivateMessages()

	ev := event.PrivateMessage{Message: msg, At: time.Now().UTC()}
	audience := append([]string{connectionID}, e.registry.ConnectionsByIdentity(recipientID)...)
	e.broadcaster.ToConnections(ctx, dedupe(audience), ev)
	return Ack{MessageID: msg.ID.String(), CreatedAt: msg.CreatedAt}, nil
}

// SwitchRoom moves a connection between rooms. Membership is swapped in one
// atomic step, so the connection is never listed in both rooms, and a
// rejected switch leaves the session exactly where it was.
func (e *SyncEngine) SwitchRoom(ctx context.Context, connectionID, roomID string) error {
	if !validRoomID(roomID) {
		return errors.ErrInvalidRoomID
	}
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("switch_room", connectionID)
		return err
	}
	if session.RoomID == roomID {
		return nil
	}

	room, err := e.rooms.EnsureRoom(ctx, domain.RoomDefaults{
		ID:         roomID,
		Name:       roomID,
		MaxMembers: e.cfg.MaxRoomMembers,
	})
	if err != nil {
		return err
	}

	status, err := e.rooms.MoveMember(ctx, session.RoomID, room.ID, domain.Member{
		ConnectionID: connectionID,
		DisplayName:  session.DisplayName,
		IdentityID:   session.Identity.ID,
		JoinedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if status != domain.JoinOK {
		return joinError(status)
	}

	oldRoom := session.RoomID
	if err := e.registry.SetRoom(connectionID, room.ID); err != nil {
		return err
	}
	// Typing state does not follow a connection across rooms.
	_ = e.registry.SetTyping(connectionID, false)

	e.broadcaster.AnnounceLeave(ctx, oldRoom, connectionID, session.DisplayName)
	e.broadcaster.PushMemberList(ctx, oldRoom)
	e.broadcaster.PushTypingState(ctx, oldRoom)

	e.pushRoomEntrySnapshots(ctx, connectionID, room.ID)
	e.broadcaster.AnnounceJoin(ctx, room.ID, connectionID, session.DisplayName)
	e.broadcaster.PushMemberList(ctx, room.ID)
	return nil
}

// React toggles the caller's reaction on a message and pushes the resulting
// reaction map to the message's audience.
func (e *SyncEngine) React(ctx context.Context, connectionID, messageID, emoji string) error {
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("react", connectionID)
		return err
	}

	_, msg, err := e.store.ToggleReaction(ctx, messageID, emoji, domain.ReactionUser{
		ID:          session.Identity.ID,
		DisplayName: session.DisplayName,
	})
	if err != nil {
		return err
	}
	e.metrics.IncReactions()

	ev := event.ReactionUpdated{
		MessageID: messageID,
		Reactions: msg.Reactions.Clone(),
		At:        time.Now().UTC(),
	}
	e.broadcastToMessageAudience(ctx, msg, ev)
	return nil
}

// MarkRead records that the caller has read a message. Only a first-time read
// by someone other than the sender produces a receipt, and the receipt goes
// to the sender's live connections only.
func (e *SyncEngine) MarkRead(ctx context.Context, connectionID, messageID string) error {
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("mark_read", connectionID)
		return err
	}

	msg, changed, err := e.store.MarkRead(ctx, messageID, session.Identity)
	if err != nil {
		return err
	}
	if !changed || msg.Sender.ID == session.Identity.ID {
		return nil
	}

	ev := event.ReadReceipt{
		MessageID: messageID,
		Reader:    session.DisplayName,
		At:        time.Now().UTC(),
	}
	e.broadcaster.ToConnections(ctx, e.registry.ConnectionsByIdentity(msg.Sender.ID), ev)
	return nil
}

// EditMessage replaces a message's content, sender only, and pushes the
// updated message to its audience.
func (e *SyncEngine) EditMessage(ctx context.Context, connectionID, messageID, newContent string) error {
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("edit_message", connectionID)
		return err
	}

	msg, err := e.store.Edit(ctx, messageID, newContent, session.Identity)
	if err != nil {
		return err
	}
	e.broadcastToMessageAudience(ctx, msg, event.MessageEdited{Message: msg, At: time.Now().UTC()})
	return nil
}

// DeleteMessage soft deletes a message, sender only, and announces the
// tombstone to the message's audience.
func (e *SyncEngine) DeleteMessage(ctx context.Context, connectionID, messageID string) error {
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("delete_message", connectionID)
		return err
	}

	msg, err := e.store.SoftDelete(ctx, messageID, session.Identity)
	if err != nil {
		return err
	}
	ev := event.MessageDeleted{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		At:        time.Now().UTC(),
	}
	e.broadcastToMessageAudience(ctx, msg, ev)
	return nil
}

// SetTyping flips the caller's typing flag and pushes the room's typing
// snapshot to the room.
func (e *SyncEngine) SetTyping(ctx context.Context, connectionID string, typing bool) error {
	session, err := e.registry.Lookup(connectionID)
	if err != nil {
		e.dropUnknown("set_typing", connectionID)
		return err
	}
	if err := e.registry.SetTyping(connectionID, typing); err != nil {
		return err
	}
	e.broadcaster.PushTypingState(ctx, session.RoomID)
	return nil
}

// Disconnect tears a connection down. Safe to call more than once; a second
// call finds no session and returns quietly.
func (e *SyncEngine) Disconnect(ctx context.Context, connectionID string) {
	session, err := e.registry.Unregister(connectionID)
	if err != nil {
		return
	}
	e.identities.Forget(connectionID)
	e.forgetLimiter(connectionID)
	e.metrics.SetConnections(e.registry.Len())

	if err := e.rooms.RemoveMember(ctx, session.RoomID, connectionID); err != nil && !goerrors.Is(err, errors.ErrNotMember) {
		e.log.Warn("leaving room on disconnect failed", "room", session.RoomID, "error", err)
	}
	e.broadcaster.AnnounceLeave(ctx, session.RoomID, connectionID, session.DisplayName)
	e.broadcaster.PushMemberList(ctx, session.RoomID)
	e.broadcaster.PushTypingState(ctx, session.RoomID)

	e.log.Info("connection left",
		"connection_id", connectionID,
		"display_name", session.DisplayName,
		"room", session.RoomID)
}

// Stats satisfies observability.StatsSource.
func (e *SyncEngine) Stats() observability.EngineStats {
	stats := observability.EngineStats{
		Connections: e.registry.Len(),
		Rooms:       len(e.rooms.ListPublicRooms()),
	}
	if e.degraded != nil {
		stats.Degraded = e.degraded.Degraded()
	}
	return stats
}

// broadcastToMessageAudience routes an event to whoever is allowed to see the
// message: the room for room messages, both participants for private ones.
func (e *SyncEngine) broadcastToMessageAudience(ctx context.Context, msg domain.Message, ev event.DomainEvent) {
	if !msg.IsPrivate {
		e.broadcaster.ToRoom(ctx, msg.RoomID, ev)
		return
	}
	audience := append(
		e.registry.ConnectionsByIdentity(msg.Sender.ID),
		e.registry.ConnectionsByIdentity(msg.Recipient)...,
	)
	e.broadcaster.ToConnections(ctx, dedupe(audience), ev)
}

func (e *SyncEngine) allowSend(connectionID string) bool {
	if e.cfg.SendRateLimit <= 0 {
		return true
	}
	e.limiterMu.Lock()
	limiter, ok := e.limiters[connectionID]
	if !ok {
		limiter = rate.NewLimiter(e.cfg.SendRateLimit, e.cfg.SendBurst)
		e.limiters[connectionID] = limiter
	}
	e.limiterMu.Unlock()
	return limiter.Allow()
}

func (e *SyncEngine) forgetLimiter(connectionID string) {
	e.limiterMu.Lock()
	delete(e.limiters, connectionID)
	e.limiterMu.Unlock()
}

func (e *SyncEngine) dropUnknown(op, connectionID string) {
	e.log.Debug("dropping event for unknown session", "op", op, "connection_id", connectionID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
