package domain

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func member(conn, name string) Member {
	return Member{ConnectionID: conn, DisplayName: name, IdentityID: "id-" + name, JoinedAt: time.Now().UTC()}
}

func TestRoom_AddMember_Capacity(t *testing.T) {
	req := require.New(t)
	room := NewRoom(RoomDefaults{ID: "small", MaxMembers: 2})

	req.Equal(JoinOK, room.AddMember(member("c1", "alice")))
	req.Equal(JoinOK, room.AddMember(member("c2", "bob")))
	req.Equal(JoinRoomFull, room.AddMember(member("c3", "carol")))

	// A leaving member frees a slot
	req.True(room.RemoveMember("c1"))
	req.Equal(JoinOK, room.AddMember(member("c3", "carol")))
}

func TestRoom_AddMember_AlreadyMember(t *testing.T) {
	req := require.New(t)
	room := NewRoom(RoomDefaults{ID: "general", MaxMembers: 10})

	req.Equal(JoinOK, room.AddMember(member("c1", "alice")))
	req.Equal(JoinAlreadyMember, room.AddMember(member("c1", "alice")))
	req.Len(room.Members(), 1)
}

func TestRoom_Ban_EvictsAndBlocks(t *testing.T) {
	req := require.New(t)
	room := NewRoom(RoomDefaults{ID: "general", MaxMembers: 10})
	req.Equal(JoinOK, room.AddMember(member("c1", "alice")))
	req.Equal(JoinOK, room.AddMember(member("c2", "bob")))

	evicted := room.Ban("id-bob", "bob")

	req.Equal([]string{"c2"}, evicted)
	req.Len(room.Members(), 1)
	req.Equal(JoinBanned, room.AddMember(member("c3", "bob")))

	req.True(room.Unban("id-bob"))
	req.False(room.Unban("id-bob"))
	req.Equal(JoinOK, room.AddMember(member("c3", "bob")))
}

func TestRoom_ConcurrentJoins_NeverExceedCapacity(t *testing.T) {
	req := require.New(t)
	room := NewRoom(RoomDefaults{ID: "busy", MaxMembers: 10})

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m := member(fmt.Sprintf("c%d", n), fmt.Sprintf("user%d", n))
			if room.AddMember(m) == JoinOK {
				admitted <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	req.Len(room.Members(), 10)
	req.Len(admitted, 10)
}

func hasConnection(members []Member, connectionID string) bool {
	for _, m := range members {
		if m.ConnectionID == connectionID {
			return true
		}
	}
	return false
}

func TestMoveMember_SwapsMembership(t *testing.T) {
	req := require.New(t)
	from := NewRoom(RoomDefaults{ID: "general", MaxMembers: 10})
	to := NewRoom(RoomDefaults{ID: "tech", MaxMembers: 10})
	alice := member("c1", "alice")
	req.Equal(JoinOK, from.AddMember(alice))

	req.Equal(JoinOK, MoveMember(from, to, alice))
	req.False(hasConnection(from.Members(), "c1"))
	req.True(hasConnection(to.Members(), "c1"))
}

func TestMoveMember_RejectedMoveKeepsSource(t *testing.T) {
	req := require.New(t)
	from := NewRoom(RoomDefaults{ID: "general", MaxMembers: 10})
	full := NewRoom(RoomDefaults{ID: "tiny", MaxMembers: 1})
	banned := NewRoom(RoomDefaults{ID: "vip", MaxMembers: 10})
	alice := member("c1", "alice")
	req.Equal(JoinOK, from.AddMember(alice))
	req.Equal(JoinOK, full.AddMember(member("c2", "bob")))
	banned.Ban("id-alice", "alice")

	req.Equal(JoinRoomFull, MoveMember(from, full, alice))
	req.Equal(JoinBanned, MoveMember(from, banned, alice))

	req.True(hasConnection(from.Members(), "c1"))
	req.False(hasConnection(full.Members(), "c1"))
	req.False(hasConnection(banned.Members(), "c1"))

	// Moving into the current room is a no-op, not an eviction.
	req.Equal(JoinAlreadyMember, MoveMember(from, from, alice))
	req.True(hasConnection(from.Members(), "c1"))
}

func TestMoveMember_NeverVisibleInBothRooms(t *testing.T) {
	req := require.New(t)
	from := NewRoom(RoomDefaults{ID: "general", MaxMembers: 10})
	to := NewRoom(RoomDefaults{ID: "tech", MaxMembers: 10})
	alice := member("c1", "alice")
	req.Equal(JoinOK, from.AddMember(alice))

	go MoveMember(from, to, alice)

	// Reading the target before the source: once the mover shows up in the
	// target, the swap must already have removed it from the source.
	req.Eventually(func() bool {
		return hasConnection(to.Members(), "c1")
	}, time.Second, 50*time.Microsecond)
	req.False(hasConnection(from.Members(), "c1"),
		"a connection must never be listed in two rooms at once")
}

func TestRoom_Summary_HidesBanList(t *testing.T) {
	req := require.New(t)
	room := NewRoom(RoomDefaults{ID: "general", Name: "General", Description: "Main chat room", MaxMembers: 100})
	req.Equal(JoinOK, room.AddMember(member("c1", "alice")))
	room.Ban("id-bob", "bob")

	summary := room.Summary()
	req.Equal("general", summary.ID)
	req.Equal("General", summary.Name)
	req.Equal(1, summary.MemberCount)
	req.Equal(100, summary.MaxMembers)
}

func TestRoom_MemberOrder_IsJoinOrder(t *testing.T) {
	req := require.New(t)
	room := NewRoom(RoomDefaults{ID: "general", MaxMembers: 10})
	room.AddMember(member("c1", "alice"))
	room.AddMember(member("c2", "bob"))
	room.AddMember(member("c3", "carol"))

	req.Equal([]string{"c1", "c2", "c3"}, room.MemberConnections())
}
