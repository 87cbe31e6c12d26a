package runtime

import (
	"context"
	"log/slog"
	"time"

	"chatsync/contract"
	"chatsync/domain/event"
	"chatsync/observability"
)

// Broadcaster fans events out to sets of connections. Delivery is best
// effort: a failing or slow recipient is logged and counted, never allowed
// to abort the rest of the fan-out.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
	rooms    contract.RoomDirectory
	timeout  time.Duration
	metrics  *observability.Metrics
}

func NewBroadcaster(log *slog.Logger, registry *Registry, rooms contract.RoomDirectory,
	timeout time.Duration, metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		log:      log,
		registry: registry,
		rooms:    rooms,
		timeout:  timeout,
		metrics:  metrics,
	}
}

// ToRoom delivers the event to every current member of the room, excluding
// the connections listed in except.
func (b *Broadcaster) ToRoom(ctx context.Context, roomID string, e event.DomainEvent, except ...string) {
	room, ok := b.rooms.Lookup(roomID)
	if !ok {
		return
	}
	conns := room.MemberConnections()
	if len(except) > 0 {
		skip := make(map[string]struct{}, len(except))
		for _, id := range except {
			skip[id] = struct{}{}
		}
		kept := conns[:0]
		for _, id := range conns {
			if _, excluded := skip[id]; !excluded {
				kept = append(kept, id)
			}
		}
		conns = kept
	}
	b.ToConnections(ctx, conns, e)
}

// ToConnections delivers the event to each listed connection.
func (b *Broadcaster) ToConnections(ctx context.Context, connectionIDs []string, e event.DomainEvent) {
	for _, id := range connectionIDs {
		b.ToConnection(ctx, id, e)
	}
}

// ToConnection delivers the event to a single connection. Unknown
// connections are dropped silently; they disconnected after the caller
// snapshotted the audience.
func (b *Broadcaster) ToConnection(ctx context.Context, connectionID string, e event.DomainEvent) {
	sink, ok := b.registry.Sink(connectionID)
	if !ok {
		return
	}
	deliverCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := sink.Consume(deliverCtx, e); err != nil {
		b.metrics.IncDeliveryFailures()
		b.log.Warn("event delivery failed",
			"event", e.Name(),
			"connection_id", connectionID,
			"error", err)
	}
}

// AnnounceJoin notifies a room that a connection joined. The joiner itself is
// excluded; it learns about the room through its history snapshot instead.
func (b *Broadcaster) AnnounceJoin(ctx context.Context, roomID, connectionID, displayName string) {
	b.ToRoom(ctx, roomID, event.JoinNotice{
		RoomID:       roomID,
		ConnectionID: connectionID,
		DisplayName:  displayName,
		At:           time.Now().UTC(),
	}, connectionID)
}

// AnnounceLeave notifies a room that a connection left.
func (b *Broadcaster) AnnounceLeave(ctx context.Context, roomID, connectionID, displayName string) {
	b.ToRoom(ctx, roomID, event.LeaveNotice{
		RoomID:       roomID,
		ConnectionID: connectionID,
		DisplayName:  displayName,
		At:           time.Now().UTC(),
	})
}

// PushMemberList sends the room's full membership snapshot to all members.
func (b *Broadcaster) PushMemberList(ctx context.Context, roomID string) {
	b.ToRoom(ctx, roomID, event.MemberList{
		RoomID:  roomID,
		Members: b.rooms.ListMembers(roomID),
		At:      time.Now().UTC(),
	})
}

// PushTypingState sends the room's current typing names to all members.
// Typing state is room scoped: members of other rooms never see it.
func (b *Broadcaster) PushTypingState(ctx context.Context, roomID string) {
	room, ok := b.rooms.Lookup(roomID)
	if !ok {
		return
	}
	conns := room.MemberConnections()
	snapshot := event.TypingSnapshot{
		RoomID: roomID,
		Names:  b.registry.TypingNames(conns),
		At:     time.Now().UTC(),
	}
	b.ToConnections(ctx, conns, snapshot)
}
