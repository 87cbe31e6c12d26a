package runtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/domain/event"
	"chatsync/errors"
	"chatsync/repositories"
)

// recorder is an EventSink capturing everything delivered to one connection.
type recorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (r *recorder) Consume(_ context.Context, e event.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) byName(name string) []event.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.DomainEvent
	for _, e := range r.events {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type engineFixture struct {
	engine *SyncEngine
	store  *repositories.MemoryStore
	sinks  map[string]*recorder
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	log := slog.Default()
	store := repositories.NewMemoryStore(log, 100)
	rooms := repositories.NewMemoryDirectory(log, cfg.MaxRoomMembers)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry, rooms, time.Second, nil)
	engine := NewSyncEngine(log, cfg, registry, broadcaster, store, rooms,
		repositories.NewEphemeralIdentities(), nil, nil)
	return &engineFixture{engine: engine, store: store, sinks: make(map[string]*recorder)}
}

func defaultConfig() EngineConfig {
	return EngineConfig{HistoryLimit: 20, MaxRoomMembers: 100, SinkBufferSize: 16, SinkTimeout: time.Second}
}

func (f *engineFixture) join(t *testing.T, conn, name, room string) {
	t.Helper()
	sink := &recorder{}
	f.sinks[conn] = sink
	err := f.engine.Join(context.Background(), JoinRequest{ConnectionID: conn, DisplayName: name, RoomID: room}, sink)
	require.NoError(t, err)
}

func (f *engineFixture) clearAll() {
	for _, s := range f.sinks {
		s.clear()
	}
}

func TestEngine_Join_SnapshotsAndNotices(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")

	// The joiner received history, the room list and the member snapshot.
	bob := f.sinks["c2"]
	req.Len(bob.byName("message_history"), 1)
	req.Len(bob.byName("room_list"), 1)
	req.Len(bob.byName("user_list"), 1)
	req.Empty(bob.byName("user_joined"), "joiners do not hear their own notice")

	// The existing member heard the join and got a fresh member list.
	alice := f.sinks["c1"]
	notices := alice.byName("user_joined")
	req.Len(notices, 1)
	req.Equal("bob", notices[0].(event.JoinNotice).DisplayName)

	members := alice.byName("user_list")
	req.NotEmpty(members)
	last := members[len(members)-1].(event.MemberList)
	req.Len(last.Members, 2)
}

func TestEngine_Join_Validation(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	err := f.engine.Join(ctx, JoinRequest{ConnectionID: "c1", DisplayName: "x", RoomID: "general"}, &recorder{})
	req.ErrorIs(err, errors.ErrInvalidDisplayName)

	err = f.engine.Join(ctx, JoinRequest{ConnectionID: "c1", DisplayName: "alice", RoomID: "No Spaces!"}, &recorder{})
	req.ErrorIs(err, errors.ErrInvalidRoomID)

	err = f.engine.Join(ctx, JoinRequest{ConnectionID: "c1", DisplayName: "p@wned", RoomID: "general"}, &recorder{})
	req.ErrorIs(err, errors.ErrInvalidDisplayName)
}

func TestEngine_Join_FullRoomLeavesNoSession(t *testing.T) {
	req := require.New(t)
	cfg := defaultConfig()
	cfg.MaxRoomMembers = 1
	f := newEngineFixture(t, cfg)

	f.join(t, "c1", "alice", "tiny")

	err := f.engine.Join(context.Background(), JoinRequest{ConnectionID: "c2", DisplayName: "bob", RoomID: "tiny"}, &recorder{})
	req.ErrorIs(err, errors.ErrRoomFull)

	// The rejected join must not leak a registered session.
	req.ErrorIs(f.engine.SetTyping(context.Background(), "c2", true), errors.ErrUnknownSession)
	req.Equal(1, f.engine.Stats().Connections)
}

func TestEngine_Send_FansOutToRoom(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")
	f.join(t, "c3", "carol", "tech")
	f.clearAll()

	ack, err := f.engine.Send(ctx, "c1", "hello room", nil)
	req.NoError(err)
	req.NotEmpty(ack.MessageID)
	req.False(ack.CreatedAt.IsZero())

	// Sender and room members receive it; other rooms stay silent.
	req.Len(f.sinks["c1"].byName("receive_message"), 1)
	req.Len(f.sinks["c2"].byName("receive_message"), 1)
	req.Empty(f.sinks["c3"].byName("receive_message"))

	received := f.sinks["c2"].byName("receive_message")[0].(event.MessageReceived)
	req.Equal("hello room", received.Message.Content.Current)
	req.Equal("alice", received.Message.Sender.DisplayName)

	// And it is in the store for late joiners.
	history, err := f.store.Recent(ctx, "general", 20, 0)
	req.NoError(err)
	req.Len(history, 1)
}

func TestEngine_Send_RateLimited(t *testing.T) {
	req := require.New(t)
	cfg := defaultConfig()
	cfg.SendRateLimit = rate.Every(time.Minute)
	cfg.SendBurst = 2
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")

	_, err := f.engine.Send(ctx, "c1", "one", nil)
	req.NoError(err)
	_, err = f.engine.Send(ctx, "c1", "two", nil)
	req.NoError(err)
	_, err = f.engine.Send(ctx, "c1", "three", nil)
	req.ErrorIs(err, errors.ErrRateLimited)
}

func TestEngine_SwitchRoom(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")
	f.join(t, "c3", "carol", "tech")
	f.clearAll()

	req.NoError(f.engine.SwitchRoom(ctx, "c1", "tech"))

	// The old room hears the departure, the new room the arrival.
	req.Len(f.sinks["c2"].byName("user_left"), 1)
	req.Len(f.sinks["c3"].byName("user_joined"), 1)

	// The mover re-enters with fresh snapshots.
	req.Len(f.sinks["c1"].byName("message_history"), 1)
	req.Len(f.sinks["c1"].byName("room_list"), 1)

	// Messages now land in the new room only.
	f.clearAll()
	_, err := f.engine.Send(ctx, "c1", "hi tech", nil)
	req.NoError(err)
	req.Empty(f.sinks["c2"].byName("receive_message"))
	req.Len(f.sinks["c3"].byName("receive_message"), 1)
}

func TestEngine_SwitchRoom_FullTargetKeepsSession(t *testing.T) {
	req := require.New(t)
	cfg := defaultConfig()
	cfg.MaxRoomMembers = 1
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "tech")
	f.clearAll()

	err := f.engine.SwitchRoom(ctx, "c1", "tech")
	req.ErrorIs(err, errors.ErrRoomFull)

	// Alice is still in general and still reachable there.
	_, sendErr := f.engine.Send(ctx, "c1", "still here", nil)
	req.NoError(sendErr)
	req.Len(f.sinks["c1"].byName("receive_message"), 1)
	req.Empty(f.sinks["c2"].byName("receive_message"))
}

// exclusiveMembershipDirectory counts any admission of a connection that is
// still listed in another room's member set.
type exclusiveMembershipDirectory struct {
	contract.RoomDirectory
	violations atomic.Int32
}

func (d *exclusiveMembershipDirectory) AddMember(ctx context.Context, roomID string, m domain.Member) (domain.JoinStatus, error) {
	d.checkExclusive(roomID, m.ConnectionID)
	return d.RoomDirectory.AddMember(ctx, roomID, m)
}

func (d *exclusiveMembershipDirectory) checkExclusive(roomID, connectionID string) {
	for _, summary := range d.ListPublicRooms() {
		if summary.ID == roomID {
			continue
		}
		for _, existing := range d.ListMembers(summary.ID) {
			if existing.ConnectionID == connectionID {
				d.violations.Add(1)
			}
		}
	}
}

func TestEngine_SwitchRoom_SingleRoomMembership(t *testing.T) {
	req := require.New(t)
	log := slog.Default()
	dir := &exclusiveMembershipDirectory{RoomDirectory: repositories.NewMemoryDirectory(log, 100)}
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry, dir, time.Second, nil)
	engine := NewSyncEngine(log, defaultConfig(), registry, broadcaster,
		repositories.NewMemoryStore(log, 100), dir, repositories.NewEphemeralIdentities(), nil, nil)
	ctx := context.Background()

	req.NoError(engine.Join(ctx, JoinRequest{ConnectionID: "c1", DisplayName: "alice", RoomID: "general"}, &recorder{}))
	req.NoError(engine.SwitchRoom(ctx, "c1", "tech"))
	req.NoError(engine.SwitchRoom(ctx, "c1", "general"))

	req.Zero(dir.violations.Load(),
		"a connection must never be admitted to a room while listed in another")
	req.Empty(dir.ListMembers("tech"))
	req.Len(dir.ListMembers("general"), 1)
}

func TestEngine_React_BroadcastsFullReactionState(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")

	ack, err := f.engine.Send(ctx, "c1", "react to this", nil)
	req.NoError(err)
	f.clearAll()

	req.NoError(f.engine.React(ctx, "c2", ack.MessageID, "👍"))

	updates := f.sinks["c1"].byName("message_reaction_updated")
	req.Len(updates, 1)
	update := updates[0].(event.ReactionUpdated)
	req.Equal(ack.MessageID, update.MessageID)
	req.Len(update.Reactions["👍"], 1)

	// Toggling again clears it for everyone.
	f.clearAll()
	req.NoError(f.engine.React(ctx, "c2", ack.MessageID, "👍"))
	update = f.sinks["c1"].byName("message_reaction_updated")[0].(event.ReactionUpdated)
	req.Empty(update.Reactions)
}

func TestEngine_SendPrivate_OnlyParticipantsSeeIt(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")
	f.join(t, "c3", "carol", "general")
	f.clearAll()

	// Addressed by connection id.
	ack, err := f.engine.SendPrivate(ctx, "c1", "c2", "between us")
	req.NoError(err)
	req.NotEmpty(ack.MessageID)

	req.Len(f.sinks["c1"].byName("private_message"), 1)
	req.Len(f.sinks["c2"].byName("private_message"), 1)
	req.Empty(f.sinks["c3"].byName("private_message"))

	delivered := f.sinks["c2"].byName("private_message")[0].(event.PrivateMessage)
	req.True(delivered.Message.IsPrivate)
	req.Equal("between us", delivered.Message.Content.Current)
}

func TestEngine_MarkRead_ReceiptToSenderOnly(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")
	f.join(t, "c3", "carol", "general")

	ack, err := f.engine.Send(ctx, "c1", "read receipts", nil)
	req.NoError(err)
	f.clearAll()

	req.NoError(f.engine.MarkRead(ctx, "c2", ack.MessageID))

	receipts := f.sinks["c1"].byName("message_read")
	req.Len(receipts, 1)
	req.Equal("bob", receipts[0].(event.ReadReceipt).Reader)
	req.Empty(f.sinks["c3"].byName("message_read"))

	// Repeated reads and self-reads produce no receipt.
	f.clearAll()
	req.NoError(f.engine.MarkRead(ctx, "c2", ack.MessageID))
	req.NoError(f.engine.MarkRead(ctx, "c1", ack.MessageID))
	req.Empty(f.sinks["c1"].byName("message_read"))
}

func TestEngine_EditAndDelete_Broadcast(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")

	ack, err := f.engine.Send(ctx, "c1", "first draft", nil)
	req.NoError(err)
	f.clearAll()

	// Only the sender may edit.
	req.ErrorIs(f.engine.EditMessage(ctx, "c2", ack.MessageID, "hijack"), errors.ErrNotMessageSender)

	req.NoError(f.engine.EditMessage(ctx, "c1", ack.MessageID, "final version"))
	edited := f.sinks["c2"].byName("message_edited")
	req.Len(edited, 1)
	req.Equal("final version", edited[0].(event.MessageEdited).Message.Content.Current)

	f.clearAll()
	req.NoError(f.engine.DeleteMessage(ctx, "c1", ack.MessageID))
	deleted := f.sinks["c2"].byName("message_deleted")
	req.Len(deleted, 1)
	req.Equal(ack.MessageID, deleted[0].(event.MessageDeleted).MessageID)
}

func TestEngine_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "general")
	req.NoError(f.engine.SetTyping(ctx, "c1", true))
	f.clearAll()

	f.engine.Disconnect(ctx, "c1")

	req.Len(f.sinks["c2"].byName("user_left"), 1)
	req.Equal(1, f.engine.Stats().Connections)

	// Typing state of the departed connection is gone from the snapshot.
	typing := f.sinks["c2"].byName("typing_users")
	req.NotEmpty(typing)
	req.Empty(typing[len(typing)-1].(event.TypingSnapshot).Names)

	// A second disconnect is a quiet no-op.
	f.clearAll()
	f.engine.Disconnect(ctx, "c1")
	req.Empty(f.sinks["c2"].byName("user_left"))
}

func TestEngine_UnknownSessionEventsAreDropped(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	_, err := f.engine.Send(ctx, "ghost", "into the void", nil)
	req.ErrorIs(err, errors.ErrUnknownSession)
	req.ErrorIs(f.engine.SetTyping(ctx, "ghost", true), errors.ErrUnknownSession)
	req.ErrorIs(f.engine.React(ctx, "ghost", "some-id", "👍"), errors.ErrUnknownSession)
}

func TestEngine_Connect_ReturnsLiveFeed(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())
	ctx := context.Background()

	feed, err := f.engine.Connect(ctx, JoinRequest{ConnectionID: "c1", DisplayName: "alice", RoomID: "general"})
	req.NoError(err)
	defer feed.Close()

	// The entry snapshots are already queued on the feed.
	first := <-feed.Events()
	req.Equal("message_history", first.Name())

	_, err = f.engine.Connect(ctx, JoinRequest{ConnectionID: "c1", DisplayName: "alice", RoomID: "general"})
	req.ErrorIs(err, errors.ErrDuplicateConnection)
}

func TestEngine_Stats(t *testing.T) {
	req := require.New(t)
	f := newEngineFixture(t, defaultConfig())

	f.join(t, "c1", "alice", "general")
	f.join(t, "c2", "bob", "tech")

	stats := f.engine.Stats()
	req.Equal(2, stats.Connections)
	req.Equal(2, stats.Rooms)
	req.False(stats.Degraded)
}
