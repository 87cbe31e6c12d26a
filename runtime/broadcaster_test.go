package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chatsync/domain"
	"chatsync/domain/event"
	"chatsync/mocks"
	"chatsync/repositories"
)

func broadcastFixture(t *testing.T, ctrl *gomock.Controller, members ...string) (*Broadcaster, *Registry, map[string]*mocks.MockEventSink) {
	t.Helper()
	registry := NewRegistry()
	rooms := repositories.NewMemoryDirectory(slog.Default(), 100)
	_, err := rooms.EnsureRoom(context.Background(), domain.RoomDefaults{ID: "general"})
	require.NoError(t, err)

	sinks := make(map[string]*mocks.MockEventSink, len(members))
	for i, name := range members {
		conn := fmt.Sprintf("c%d", i+1)
		sink := mocks.NewMockEventSink(ctrl)
		sinks[name] = sink
		require.NoError(t, registry.Register(session(conn, name, "general"), sink))
		_, err := rooms.AddMember(context.Background(), "general", domain.Member{
			ConnectionID: conn, DisplayName: name, IdentityID: "id-" + name, JoinedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	return NewBroadcaster(slog.Default(), registry, rooms, time.Second, nil), registry, sinks
}

func TestBroadcaster_ToRoom_ReachesEveryMember(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	b, _, sinks := broadcastFixture(t, ctrl, "alice", "bob", "carol")

	for _, sink := range sinks {
		sink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	}
	b.ToRoom(context.Background(), "general", event.MessageReceived{At: time.Now().UTC()})
}

func TestBroadcaster_ToRoom_ExcludesListed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	b, _, sinks := broadcastFixture(t, ctrl, "alice", "bob")

	// c1 is alice; only bob hears the join notice.
	sinks["bob"].EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	b.ToRoom(context.Background(), "general", event.JoinNotice{At: time.Now().UTC()}, "c1")
}

func TestBroadcaster_FailingRecipientDoesNotAbortFanout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	b, _, sinks := broadcastFixture(t, ctrl, "alice", "bob", "carol")

	sinks["alice"].EXPECT().Consume(gomock.Any(), gomock.Any()).Return(fmt.Errorf("slow consumer")).Times(1)
	sinks["bob"].EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	sinks["carol"].EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	b.ToRoom(context.Background(), "general", event.MessageReceived{At: time.Now().UTC()})
}

func TestBroadcaster_UnknownRoomIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	b, _, _ := broadcastFixture(t, ctrl, "alice")

	// No EXPECT set up: any delivery would fail the test.
	b.ToRoom(context.Background(), "nowhere", event.MessageReceived{At: time.Now().UTC()})
}

func TestBroadcaster_PushTypingState_RoomScoped(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	b, registry, sinks := broadcastFixture(t, ctrl, "alice", "bob")

	req.NoError(registry.SetTyping("c1", true))

	var captured event.TypingSnapshot
	for _, sink := range sinks {
		sink.EXPECT().
			Consume(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e event.DomainEvent) error {
				captured = e.(event.TypingSnapshot)
				return nil
			}).
			Times(1)
	}

	b.PushTypingState(context.Background(), "general")
	req.Equal("general", captured.RoomID)
	req.Equal([]string{"alice"}, captured.Names)
}
