package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/domain"
	"chatsync/errors"
)

func session(conn, name, room string) domain.Session {
	return domain.Session{
		ConnectionID: conn,
		DisplayName:  name,
		Identity:     domain.Identity{ID: "id-" + name, DisplayName: name},
		RoomID:       room,
		JoinedAt:     time.Now().UTC(),
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	req.NoError(r.Register(session("c1", "alice", "general"), nil))
	req.ErrorIs(r.Register(session("c1", "alice", "general"), nil), errors.ErrDuplicateConnection)

	got, err := r.Lookup("c1")
	req.NoError(err)
	req.Equal("alice", got.DisplayName)

	_, err = r.Lookup("ghost")
	req.ErrorIs(err, errors.ErrUnknownSession)
	req.Equal(1, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	req.NoError(r.Register(session("c1", "alice", "general"), nil))

	got, err := r.Unregister("c1")
	req.NoError(err)
	req.Equal("general", got.RoomID)

	_, err = r.Unregister("c1")
	req.ErrorIs(err, errors.ErrUnknownSession)
	req.Equal(0, r.Len())
}

func TestRegistry_SetRoom(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	req.NoError(r.Register(session("c1", "alice", "general"), nil))

	req.NoError(r.SetRoom("c1", "tech"))
	got, err := r.Lookup("c1")
	req.NoError(err)
	req.Equal("tech", got.RoomID)

	req.ErrorIs(r.SetRoom("ghost", "tech"), errors.ErrUnknownSession)
}

func TestRegistry_TypingNames(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	req.NoError(r.Register(session("c1", "alice", "general"), nil))
	req.NoError(r.Register(session("c2", "bob", "general"), nil))
	req.NoError(r.Register(session("c3", "carol", "general"), nil))

	req.NoError(r.SetTyping("c1", true))
	req.NoError(r.SetTyping("c3", true))

	names := r.TypingNames([]string{"c1", "c2", "c3"})
	req.Equal([]string{"alice", "carol"}, names)

	req.NoError(r.SetTyping("c1", false))
	req.Equal([]string{"carol"}, r.TypingNames([]string{"c1", "c2", "c3"}))
}

func TestRegistry_ConnectionsByIdentity(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	// Two tabs of the same user share an identity.
	s1 := session("c1", "alice", "general")
	s2 := session("c2", "alice", "tech")
	req.NoError(r.Register(s1, nil))
	req.NoError(r.Register(s2, nil))
	req.NoError(r.Register(session("c3", "bob", "general"), nil))

	conns := r.ConnectionsByIdentity("id-alice")
	req.ElementsMatch([]string{"c1", "c2"}, conns)
	req.Empty(r.ConnectionsByIdentity("id-nobody"))
}

func TestRegistry_SinksForSkipsGone(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	req.NoError(r.Register(session("c1", "alice", "general"), nil))

	sinks := r.SinksFor([]string{"c1", "gone"})
	req.Len(sinks, 1)
}
