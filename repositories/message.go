package repositories

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"chatsync/contract"
	"chatsync/domain"
	"chatsync/errors"
)

// conflictRetries bounds optimistic-transaction retries on concurrent
// mutations of the same message.
const conflictRetries = 5

type reactionUserRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type readRecord struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	At          time.Time `json:"at"`
}

type attachmentRecord struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// messageRecord is the JSON value stored in BadgerDB. The primary record
// lives under a chronological key; "msgid:{uuid}" points back at it so
// per-message mutations resolve in one extra lookup.
type messageRecord struct {
	ID         string                          `json:"id"`
	Content    string                          `json:"content"`
	Original   string                          `json:"original,omitempty"`
	IsEdited   bool                            `json:"is_edited,omitempty"`
	IsDeleted  bool                            `json:"is_deleted,omitempty"`
	SenderID   string                          `json:"sender_id"`
	SenderName string                          `json:"sender_name"`
	RoomID     string                          `json:"room_id,omitempty"`
	Recipient  string                          `json:"recipient,omitempty"`
	IsPrivate  bool                            `json:"is_private,omitempty"`
	Attachment *attachmentRecord               `json:"attachment,omitempty"`
	Reactions  map[string][]reactionUserRecord `json:"reactions,omitempty"`
	ReadBy     []readRecord                    `json:"read_by,omitempty"`
	CreatedAt  time.Time                       `json:"created_at"`
	EditedAt   *time.Time                      `json:"edited_at,omitempty"`
	DeletedAt  *time.Time                      `json:"deleted_at,omitempty"`
}

// BadgerStore is the durable MessageStore: messages in BadgerDB, search
// served by a Bluge index over non-private content. Any storage failure that
// is not a plain not-found is wrapped in ErrBackendUnavailable so the
// failover layer can degrade to the ephemeral backend.
type BadgerStore struct {
	db    *badger.DB
	index *bluge.Writer
	log   *slog.Logger
}

var _ contract.MessageStore = (*BadgerStore)(nil)

func NewBadgerStore(db *badger.DB, index *bluge.Writer, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, index: index, log: log}
}

func (s *BadgerStore) Append(ctx context.Context, scope contract.Scope, content string, sender domain.Identity, att *domain.Attachment) (domain.Message, error) {
	cleaned, err := domain.SanitizeContent(content)
	if err != nil {
		return domain.Message{}, err
	}

	now := time.Now().UTC()
	var msg domain.Message
	var primaryKey string
	if scope.IsPrivate() {
		msg = domain.NewPrivateMessage(scope.Recipient, cleaned, sender, now)
		primaryKey = pmKey(sender.ID, scope.Recipient, now, msg.ID)
	} else {
		msg = domain.NewRoomMessage(scope.RoomID, cleaned, sender, now)
		primaryKey = msgKey(scope.RoomID, now, msg.ID)
	}
	msg.Attachment = att

	bytes, err := json.Marshal(fromMessage(msg))
	if err != nil {
		return domain.Message{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(primaryKey), bytes); err != nil {
			return err
		}
		return txn.Set([]byte(idKey(msg.ID.String())), []byte(primaryKey))
	})
	if err != nil {
		return domain.Message{}, s.unavailable(err)
	}

	if !msg.IsPrivate {
		if err := s.indexMessage(msg.ID.String(), msg.RoomID, cleaned); err != nil {
			// The message is stored; losing an index entry only degrades
			// search for it.
			s.log.Warn("failed to index message", "message_id", msg.ID, "error", err)
		}
	}
	return msg, nil
}

func (s *BadgerStore) Recent(_ context.Context, roomID string, limit, offset int) ([]domain.Message, error) {
	newest, err := s.scanNewest(msgRoomPrefix(roomID), limit, offset)
	if err != nil {
		return nil, err
	}
	return reverseMessages(newest), nil
}

// scanNewest walks a chronological prefix backwards, skipping soft-deleted
// records and offset survivors, and returns up to limit messages newest
// first.
func (s *BadgerStore) scanNewest(prefixStr string, limit, offset int) ([]domain.Message, error) {
	var newest []domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the most recent possible timestamp, then walk back.
		seekKey := append(append([]byte(nil), prefix...), []byte("9999999999999999999:\xff")...)
		skipped := 0
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(newest) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var rec messageRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				if rec.IsDeleted {
					return nil
				}
				if skipped < offset {
					skipped++
					return nil
				}
				msg, err := toMessage(rec)
				if err != nil {
					return err
				}
				newest = append(newest, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.unavailable(err)
	}
	return newest, nil
}

func (s *BadgerStore) Get(_ context.Context, messageID string) (domain.Message, error) {
	var rec messageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return s.loadByID(txn, messageID, &rec)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(rec)
}

func (s *BadgerStore) loadByID(txn *badger.Txn, messageID string, rec *messageRecord) error {
	item, err := txn.Get([]byte(idKey(messageID)))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrMessageNotFound
	}
	if err != nil {
		return s.unavailable(err)
	}
	var primaryKey []byte
	if err := item.Value(func(val []byte) error {
		primaryKey = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return s.unavailable(err)
	}
	item, err = txn.Get(primaryKey)
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrMessageNotFound
	}
	if err != nil {
		return s.unavailable(err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
}

// mutate applies fn to a message record inside a transaction, retrying on
// write conflicts so concurrent reaction toggles on the same message all
// land.
func (s *BadgerStore) mutate(messageID string, fn func(rec *messageRecord) error) (messageRecord, error) {
	var rec messageRecord
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		rec = messageRecord{}
		err = s.db.Update(func(txn *badger.Txn) error {
			if err := s.loadByID(txn, messageID, &rec); err != nil {
				return err
			}
			if err := fn(&rec); err != nil {
				return err
			}
			item, err := txn.Get([]byte(idKey(messageID)))
			if err != nil {
				return s.unavailable(err)
			}
			var primaryKey []byte
			if err := item.Value(func(val []byte) error {
				primaryKey = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return s.unavailable(err)
			}
			bytes, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return txn.Set(primaryKey, bytes)
		})
		if !goerrors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if goerrors.Is(err, badger.ErrConflict) {
		return messageRecord{}, s.unavailable(err)
	}
	if err != nil {
		return messageRecord{}, err
	}
	return rec, nil
}

func (s *BadgerStore) ToggleReaction(_ context.Context, messageID, emoji string, user domain.ReactionUser) (domain.ReactionChange, domain.Message, error) {
	var change domain.ReactionChange
	rec, err := s.mutate(messageID, func(rec *messageRecord) error {
		msg, err := toMessage(*rec)
		if err != nil {
			return err
		}
		change = msg.ToggleReaction(emoji, user)
		rec.Reactions = fromReactions(msg.Reactions)
		return nil
	})
	if err != nil {
		return "", domain.Message{}, err
	}
	msg, err := toMessage(rec)
	return change, msg, err
}

func (s *BadgerStore) MarkRead(_ context.Context, messageID string, reader domain.Identity) (domain.Message, bool, error) {
	changed := false
	rec, err := s.mutate(messageID, func(rec *messageRecord) error {
		msg, err := toMessage(*rec)
		if err != nil {
			return err
		}
		changed = msg.MarkRead(reader, time.Now().UTC())
		rec.ReadBy = fromReadBy(msg.ReadBy)
		return nil
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	msg, err := toMessage(rec)
	return msg, changed, err
}

func (s *BadgerStore) Edit(_ context.Context, messageID, newContent string, requester domain.Identity) (domain.Message, error) {
	cleaned, err := domain.SanitizeContent(newContent)
	if err != nil {
		return domain.Message{}, err
	}

	rec, err := s.mutate(messageID, func(rec *messageRecord) error {
		if rec.SenderID != requester.ID {
			return errors.ErrNotMessageSender
		}
		msg, err := toMessage(*rec)
		if err != nil {
			return err
		}
		msg.Edit(cleaned, time.Now().UTC())
		rec.Content = msg.Content.Current
		rec.Original = msg.Content.Original
		rec.IsEdited = true
		rec.EditedAt = msg.EditedAt
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	if !rec.IsPrivate {
		if err := s.indexMessage(rec.ID, rec.RoomID, rec.Content); err != nil {
			s.log.Warn("failed to reindex edited message", "message_id", rec.ID, "error", err)
		}
	}
	return toMessage(rec)
}

func (s *BadgerStore) SoftDelete(_ context.Context, messageID string, requester domain.Identity) (domain.Message, error) {
	rec, err := s.mutate(messageID, func(rec *messageRecord) error {
		if rec.SenderID != requester.ID {
			return errors.ErrNotMessageSender
		}
		msg, err := toMessage(*rec)
		if err != nil {
			return err
		}
		msg.SoftDelete(time.Now().UTC())
		rec.Content = msg.Content.Current
		rec.Original = msg.Content.Original
		rec.IsDeleted = true
		rec.DeletedAt = msg.DeletedAt
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.index.Delete(bluge.Identifier(rec.ID)); err != nil {
		s.log.Warn("failed to drop deleted message from index", "message_id", rec.ID, "error", err)
	}
	return toMessage(rec)
}

// indexMessage writes the searchable view of a room message. The raw keyword
// field holds the lowercased content as a single term so wildcard queries
// behave like a case-insensitive substring match.
func (s *BadgerStore) indexMessage(id, roomID, content string) error {
	lowered := strings.ToLower(content)
	doc := bluge.NewDocument(id).
		AddField(bluge.NewTextField("content", lowered)).
		AddField(bluge.NewKeywordField("content_raw", lowered)).
		AddField(bluge.NewKeywordField("room", roomID))
	return s.index.Update(doc.ID(), doc)
}

func (s *BadgerStore) Search(ctx context.Context, query, roomID string, limit int) ([]domain.Message, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	reader, err := s.index.Reader()
	if err != nil {
		return nil, s.unavailable(err)
	}
	defer func() { _ = reader.Close() }()

	boolean := bluge.NewBooleanQuery().
		AddMust(bluge.NewWildcardQuery("*" + needle + "*").SetField("content_raw"))
	if roomID != "" {
		boolean.AddMust(bluge.NewTermQuery(roomID).SetField("room"))
	}

	iter, err := reader.Search(ctx, bluge.NewTopNSearch(limit, boolean))
	if err != nil {
		return nil, s.unavailable(err)
	}

	var ids []string
	for {
		match, err := iter.Next()
		if err != nil {
			return nil, s.unavailable(err)
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, string(value))
			}
			return true
		})
		if err != nil {
			return nil, s.unavailable(err)
		}
	}

	var matches []domain.Message
	for _, id := range ids {
		msg, err := s.Get(ctx, id)
		if goerrors.Is(err, errors.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if msg.Content.IsDeleted {
			continue
		}
		matches = append(matches, msg)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

func (s *BadgerStore) PrivateHistory(_ context.Context, identityA, identityB string, limit int) ([]domain.Message, error) {
	newest, err := s.scanNewest(pmPairPrefix(identityA, identityB), limit, 0)
	if err != nil {
		return nil, err
	}
	return reverseMessages(newest), nil
}

func (s *BadgerStore) unavailable(err error) error {
	if err == nil ||
		goerrors.Is(err, errors.ErrBackendUnavailable) ||
		goerrors.Is(err, errors.ErrMessageNotFound) ||
		goerrors.Is(err, errors.ErrNotMessageSender) {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err)
}

func fromMessage(msg domain.Message) messageRecord {
	rec := messageRecord{
		ID:         msg.ID.String(),
		Content:    msg.Content.Current,
		Original:   msg.Content.Original,
		IsEdited:   msg.Content.IsEdited,
		IsDeleted:  msg.Content.IsDeleted,
		SenderID:   msg.Sender.ID,
		SenderName: msg.Sender.DisplayName,
		RoomID:     msg.RoomID,
		Recipient:  msg.Recipient,
		IsPrivate:  msg.IsPrivate,
		Reactions:  fromReactions(msg.Reactions),
		ReadBy:     fromReadBy(msg.ReadBy),
		CreatedAt:  msg.CreatedAt,
		EditedAt:   msg.EditedAt,
		DeletedAt:  msg.DeletedAt,
	}
	if msg.Attachment != nil {
		rec.Attachment = &attachmentRecord{
			Name:     msg.Attachment.Name,
			Size:     msg.Attachment.Size,
			MimeType: msg.Attachment.MimeType,
		}
	}
	return rec
}

func toMessage(rec messageRecord) (domain.Message, error) {
	parsedID, err := uuid.Parse(rec.ID)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID: parsedID,
		Content: domain.Content{
			Current:   rec.Content,
			Original:  rec.Original,
			IsEdited:  rec.IsEdited,
			IsDeleted: rec.IsDeleted,
		},
		Sender:    domain.Identity{ID: rec.SenderID, DisplayName: rec.SenderName},
		RoomID:    rec.RoomID,
		Recipient: rec.Recipient,
		IsPrivate: rec.IsPrivate,
		Reactions: toReactions(rec.Reactions),
		ReadBy: lo.Map(rec.ReadBy, func(r readRecord, _ int) domain.ReadEntry {
			return domain.ReadEntry{ID: r.ID, DisplayName: r.DisplayName, At: r.At}
		}),
		CreatedAt: rec.CreatedAt,
		EditedAt:  rec.EditedAt,
		DeletedAt: rec.DeletedAt,
	}
	if rec.Attachment != nil {
		msg.Attachment = &domain.Attachment{
			Name:     rec.Attachment.Name,
			Size:     rec.Attachment.Size,
			MimeType: rec.Attachment.MimeType,
		}
	}
	return msg, nil
}

// DecodeMessageRecord parses a raw Badger value into a domain message; used
// by the inspect tooling, which reads the database directly.
func DecodeMessageRecord(val []byte) (domain.Message, error) {
	var rec messageRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return domain.Message{}, err
	}
	return toMessage(rec)
}

func fromReactions(reactions domain.Reactions) map[string][]reactionUserRecord {
	if len(reactions) == 0 {
		return nil
	}
	out := make(map[string][]reactionUserRecord, len(reactions))
	for emoji, users := range reactions {
		out[emoji] = lo.Map(users, func(u domain.ReactionUser, _ int) reactionUserRecord {
			return reactionUserRecord{ID: u.ID, DisplayName: u.DisplayName}
		})
	}
	return out
}

func toReactions(records map[string][]reactionUserRecord) domain.Reactions {
	out := make(domain.Reactions, len(records))
	for emoji, users := range records {
		out[emoji] = lo.Map(users, func(u reactionUserRecord, _ int) domain.ReactionUser {
			return domain.ReactionUser{ID: u.ID, DisplayName: u.DisplayName}
		})
	}
	return out
}

func fromReadBy(entries []domain.ReadEntry) []readRecord {
	return lo.Map(entries, func(e domain.ReadEntry, _ int) readRecord {
		return readRecord{ID: e.ID, DisplayName: e.DisplayName, At: e.At}
	})
}
