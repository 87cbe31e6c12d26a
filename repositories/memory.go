package repositories

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/errors"
)

// DefaultRingCapacity bounds each room's log in ephemeral mode; the oldest
// message is evicted first, synchronously on append.
const DefaultRingCapacity = 1000

// memMessage wraps one stored message with its own mutex so reaction and
// readBy mutations on different messages never contend.
type memMessage struct {
	mu  sync.Mutex
	msg domain.Message
}

func (m *memMessage) snapshot() domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.msg
	out.Reactions = m.msg.Reactions.Clone()
	out.ReadBy = append([]domain.ReadEntry(nil), m.msg.ReadBy...)
	return out
}

// ring is one room's (or private pair's) bounded FIFO log.
type ring struct {
	mu       sync.Mutex
	capacity int
	msgs     []*memMessage
}

func (r *ring) append(m *memMessage) (evicted *memMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	if r.capacity > 0 && len(r.msgs) > r.capacity {
		evicted = r.msgs[0]
		r.msgs = r.msgs[1:]
	}
	return evicted
}

func (r *ring) all() []*memMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*memMessage(nil), r.msgs...)
}

// MemoryStore is the ephemeral MessageStore: in-process, non-persistent,
// used when the durable backend is unreachable. Nothing survives the process.
type MemoryStore struct {
	log      *slog.Logger
	capacity int

	mu    sync.RWMutex
	rooms map[string]*ring
	pairs map[string]*ring
	index map[string]*memMessage
}

var _ contract.MessageStore = (*MemoryStore)(nil)

func NewMemoryStore(log *slog.Logger, capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &MemoryStore{
		log:      log,
		capacity: capacity,
		rooms:    make(map[string]*ring),
		pairs:    make(map[string]*ring),
		index:    make(map[string]*memMessage),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *MemoryStore) bucket(scope contract.Scope, senderID string) *ring {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope.IsPrivate() {
		key := pairKey(senderID, scope.Recipient)
		b, ok := s.pairs[key]
		if !ok {
			b = &ring{capacity: s.capacity}
			s.pairs[key] = b
		}
		return b
	}
	b, ok := s.rooms[scope.RoomID]
	if !ok {
		b = &ring{capacity: s.capacity}
		s.rooms[scope.RoomID] = b
	}
	return b
}

func (s *MemoryStore) Append(_ context.Context, scope contract.Scope, content string, sender domain.Identity, att *domain.Attachment) (domain.Message, error) {
	cleaned, err := domain.SanitizeContent(content)
	if err != nil {
		return domain.Message{}, err
	}

	now := time.Now().UTC()
	var msg domain.Message
	if scope.IsPrivate() {
		msg = domain.NewPrivateMessage(scope.Recipient, cleaned, sender, now)
	} else {
		msg = domain.NewRoomMessage(scope.RoomID, cleaned, sender, now)
	}
	msg.Attachment = att

	stored := &memMessage{msg: msg}
	evicted := s.bucket(scope, sender.ID).append(stored)

	s.mu.Lock()
	s.index[msg.ID.String()] = stored
	if evicted != nil {
		delete(s.index, evicted.msg.ID.String())
	}
	s.mu.Unlock()

	return stored.snapshot(), nil
}

func (s *MemoryStore) Recent(_ context.Context, roomID string, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	bucket, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	stored := bucket.all()
	// Walk newest-first, skip deleted and the offset, then flip back to
	// chronological order for the caller.
	var newest []domain.Message
	skipped := 0
	for i := len(stored) - 1; i >= 0 && len(newest) < limit; i-- {
		snap := stored[i].snapshot()
		if snap.Content.IsDeleted {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		newest = append(newest, snap)
	}
	return reverseMessages(newest), nil
}

func (s *MemoryStore) Get(_ context.Context, messageID string) (domain.Message, error) {
	s.mu.RLock()
	stored, ok := s.index[messageID]
	s.mu.RUnlock()
	if !ok {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	return stored.snapshot(), nil
}

func (s *MemoryStore) ToggleReaction(_ context.Context, messageID, emoji string, user domain.ReactionUser) (domain.ReactionChange, domain.Message, error) {
	s.mu.RLock()
	stored, ok := s.index[messageID]
	s.mu.RUnlock()
	if !ok {
		return "", domain.Message{}, errors.ErrMessageNotFound
	}

	stored.mu.Lock()
	change := stored.msg.ToggleReaction(emoji, user)
	stored.mu.Unlock()
	return change, stored.snapshot(), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, messageID string, reader domain.Identity) (domain.Message, bool, error) {
	s.mu.RLock()
	stored, ok := s.index[messageID]
	s.mu.RUnlock()
	if !ok {
		return domain.Message{}, false, errors.ErrMessageNotFound
	}

	stored.mu.Lock()
	changed := stored.msg.MarkRead(reader, time.Now().UTC())
	stored.mu.Unlock()
	return stored.snapshot(), changed, nil
}

func (s *MemoryStore) Edit(_ context.Context, messageID, newContent string, requester domain.Identity) (domain.Message, error) {
	cleaned, err := domain.SanitizeContent(newContent)
	if err != nil {
		return domain.Message{}, err
	}

	s.mu.RLock()
	stored, ok := s.index[messageID]
	s.mu.RUnlock()
	if !ok {
		return domain.Message{}, errors.ErrMessageNotFound
	}

	stored.mu.Lock()
	defer stored.mu.Unlock()
	if stored.msg.Sender.ID != requester.ID {
		return domain.Message{}, errors.ErrNotMessageSender
	}
	stored.msg.Edit(cleaned, time.Now().UTC())
	out := stored.msg
	out.Reactions = stored.msg.Reactions.Clone()
	return out, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, messageID string, requester domain.Identity) (domain.Message, error) {
	s.mu.RLock()
	stored, ok := s.index[messageID]
	s.mu.RUnlock()
	if !ok {
		return domain.Message{}, errors.ErrMessageNotFound
	}

	stored.mu.Lock()
	defer stored.mu.Unlock()
	if stored.msg.Sender.ID != requester.ID {
		return domain.Message{}, errors.ErrNotMessageSender
	}
	stored.msg.SoftDelete(time.Now().UTC())
	return stored.msg, nil
}

func (s *MemoryStore) Search(_ context.Context, query, roomID string, limit int) ([]domain.Message, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	s.mu.RLock()
	var buckets []*ring
	if roomID != "" {
		if b, ok := s.rooms[roomID]; ok {
			buckets = append(buckets, b)
		}
	} else {
		// Global search never sees private messages, so the pair buckets
		// stay untouched.
		for _, b := range s.rooms {
			buckets = append(buckets, b)
		}
	}
	s.mu.RUnlock()

	var matches []domain.Message
	for _, bucket := range buckets {
		for _, stored := range bucket.all() {
			snap := stored.snapshot()
			if snap.Content.IsDeleted {
				continue
			}
			if strings.Contains(strings.ToLower(snap.Content.Current), needle) {
				matches = append(matches, snap)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) PrivateHistory(_ context.Context, identityA, identityB string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	bucket, ok := s.pairs[pairKey(identityA, identityB)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	stored := bucket.all()
	var newest []domain.Message
	for i := len(stored) - 1; i >= 0 && (limit <= 0 || len(newest) < limit); i-- {
		snap := stored[i].snapshot()
		if snap.Content.IsDeleted {
			continue
		}
		newest = append(newest, snap)
	}
	return reverseMessages(newest), nil
}

func reverseMessages(msgs []domain.Message) []domain.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
