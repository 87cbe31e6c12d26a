package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/errors"
)

// MemoryDirectory is the ephemeral RoomDirectory: rooms live only in memory
// and novel room ids are created lazily on first join. Member mutation locks
// are per room (inside domain.Room); the directory lock only guards the map.
type MemoryDirectory struct {
	log               *slog.Logger
	defaultMaxMembers int

	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

var _ contract.RoomDirectory = (*MemoryDirectory)(nil)

func NewMemoryDirectory(log *slog.Logger, defaultMaxMembers int) *MemoryDirectory {
	return &MemoryDirectory{
		log:               log,
		defaultMaxMembers: defaultMaxMembers,
		rooms:             make(map[string]*domain.Room),
	}
}

func (d *MemoryDirectory) EnsureRoom(_ context.Context, defaults domain.RoomDefaults) (*domain.Room, error) {
	if defaults.MaxMembers <= 0 {
		defaults.MaxMembers = d.defaultMaxMembers
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if room, ok := d.rooms[defaults.ID]; ok {
		return room, nil
	}
	room := domain.NewRoom(defaults)
	d.rooms[defaults.ID] = room
	return room, nil
}

func (d *MemoryDirectory) Lookup(roomID string) (*domain.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[roomID]
	return room, ok
}

func (d *MemoryDirectory) AddMember(_ context.Context, roomID string, m domain.Member) (domain.JoinStatus, error) {
	room, ok := d.Lookup(roomID)
	if !ok {
		return 0, errors.ErrUnknownRoom
	}
	return room.AddMember(m), nil
}

// MoveMember swaps a connection's membership between two rooms atomically;
// see domain.MoveMember for the locking discipline.
func (d *MemoryDirectory) MoveMember(_ context.Context, fromRoomID, toRoomID string, m domain.Member) (domain.JoinStatus, error) {
	from, ok := d.Lookup(fromRoomID)
	if !ok {
		return 0, errors.ErrUnknownRoom
	}
	to, ok := d.Lookup(toRoomID)
	if !ok {
		return 0, errors.ErrUnknownRoom
	}
	return domain.MoveMember(from, to, m), nil
}

func (d *MemoryDirectory) RemoveMember(_ context.Context, roomID, connectionID string) error {
	room, ok := d.Lookup(roomID)
	if !ok {
		return errors.ErrUnknownRoom
	}
	if !room.RemoveMember(connectionID) {
		return errors.ErrNotMember
	}
	return nil
}

func (d *MemoryDirectory) ListMembers(roomID string) []domain.Member {
	room, ok := d.Lookup(roomID)
	if !ok {
		return nil
	}
	return room.Members()
}

func (d *MemoryDirectory) ListPublicRooms() []domain.RoomSummary {
	d.mu.RLock()
	rooms := lo.Values(d.rooms)
	d.mu.RUnlock()

	var summaries []domain.RoomSummary
	for _, room := range rooms {
		if room.Private {
			continue
		}
		summaries = append(summaries, room.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

// roomRecord is the JSON shape persisted under "room:{id}". Membership is
// live connection state and is never persisted.
type roomRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	MaxMembers  int    `json:"max_members"`
}

// DurableDirectory keeps membership in memory like MemoryDirectory but
// persists room definitions in BadgerDB so rooms survive restarts.
// Persistence failures are logged and the room stays usable in memory.
type DurableDirectory struct {
	*MemoryDirectory
	db *badger.DB
}

var _ contract.RoomDirectory = (*DurableDirectory)(nil)

func NewDurableDirectory(db *badger.DB, log *slog.Logger, defaultMaxMembers int) (*DurableDirectory, error) {
	d := &DurableDirectory{
		MemoryDirectory: NewMemoryDirectory(log, defaultMaxMembers),
		db:              db,
	}
	if err := d.loadRooms(); err != nil {
		return nil, fmt.Errorf("loading rooms: %w", err)
	}
	return d, nil
}

func (d *DurableDirectory) loadRooms() error {
	return d.db.View(func(txn *badger.Txn) error {
		prefix := []byte(roomKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec roomRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				d.rooms[rec.ID] = domain.NewRoom(domain.RoomDefaults{
					ID:          rec.ID,
					Name:        rec.Name,
					Description: rec.Description,
					Private:     rec.Private,
					MaxMembers:  rec.MaxMembers,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DurableDirectory) EnsureRoom(ctx context.Context, defaults domain.RoomDefaults) (*domain.Room, error) {
	if defaults.MaxMembers <= 0 {
		defaults.MaxMembers = d.defaultMaxMembers
	}

	d.mu.Lock()
	room, existed := d.rooms[defaults.ID]
	if !existed {
		room = domain.NewRoom(defaults)
		d.rooms[defaults.ID] = room
	}
	d.mu.Unlock()
	if existed {
		return room, nil
	}

	rec := roomRecord{
		ID:          defaults.ID,
		Name:        defaults.Name,
		Description: defaults.Description,
		Private:     defaults.Private,
		MaxMembers:  defaults.MaxMembers,
	}
	bytes, err := json.Marshal(rec)
	if err != nil {
		return room, err
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(roomKey(defaults.ID)), bytes)
	})
	if err != nil {
		// The in-memory room stays valid; the definition just won't
		// survive a restart.
		d.log.Warn("failed to persist room definition", "room_id", defaults.ID, "error", err)
	}
	return room, nil
}
