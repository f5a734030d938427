// Package chatlog keeps the append-only message log of each event's chat in
// a single encoded column, together with the chat's members and the members
// who have read the latest message.
package chatlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/codec"
	"github.com/CUknot/yolo_backend/database"
	"github.com/CUknot/yolo_backend/locker"
	"github.com/CUknot/yolo_backend/metrics"
	"github.com/CUknot/yolo_backend/models"
)

var (
	ErrNoChat       = errors.New("chat not found")
	ErrEmptyMessage = errors.New("sender and text are required")

	// ErrNotMember means the user has not joined the chat.
	ErrNotMember = errors.New("user is not a member of the chat")
)

// Entry is one chat message.
type Entry struct {
	Sender string `json:"sender"`
	Text   string `json:"message"`
}

// Summary describes a chat without its messages.
type Summary struct {
	EventID    uint      `json:"event_id"`
	CreatorID  uint      `json:"creator_id"`
	Members    []uint    `json:"members"`
	ReadBy     []uint    `json:"read_by"`
	LastUpdate time.Time `json:"last_update"`
}

// HasRead reports whether userID has read the latest message.
func (c *Summary) HasRead(userID uint) bool {
	return slices.Contains(c.ReadBy, userID)
}

// Options tunes the write path.
type Options struct {
	WriteTimeout time.Duration
	MaxTries     uint
}

type Store struct {
	db      *gorm.DB
	locks   locker.Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

func NewStore(db *gorm.DB, locks locker.Locker, m *metrics.Metrics, logger *slog.Logger, opts Options) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 5
	}
	return &Store{db: db, locks: locks, metrics: m, logger: logger, opts: opts, now: time.Now}
}

// Init creates the empty chat of an event. Pass the event's transaction as
// tx so the event and its chat are created together.
func (s *Store) Init(tx *gorm.DB, eventID, creatorID uint) (*models.Chat, error) {
	chat := &models.Chat{
		EventID:    eventID,
		CreatorID:  creatorID,
		Messages:   codec.Empty,
		Members:    codec.Empty,
		ReadBy:     codec.Empty,
		LastUpdate: s.now(),
	}
	if err := tx.Create(chat).Error; err != nil {
		return nil, fmt.Errorf("create chat for event %d: %w", eventID, err)
	}
	return chat, nil
}

// AppendMessage adds one entry to the end of the event's chat and marks the
// chat unread for every member.
func (s *Store) AppendMessage(ctx context.Context, eventID uint, sender, text string) (err error) {
	defer func() { s.observe("append", eventID, err) }()

	if sender == "" || text == "" {
		return ErrEmptyMessage
	}

	record := codec.EncodeRecord(sender, text)
	return s.update(ctx, eventID, func(r *chatRecord) error {
		records, err := codec.Decode(r.chat.Messages)
		if err != nil {
			return fmt.Errorf("chat of event %d: %w", eventID, err)
		}
		r.set("messages", codec.Encode(append(records, record)))
		r.set("read_by", codec.Empty)
		r.set("last_update", s.now())
		return nil
	})
}

// Join adds userID to the chat's members. Joining twice is a no-op.
func (s *Store) Join(ctx context.Context, eventID, userID uint) (err error) {
	defer func() { s.observe("chat_join", eventID, err) }()

	id := codec.FormatID(userID)
	return s.update(ctx, eventID, func(r *chatRecord) error {
		if members, changed := r.members.Add(id); changed {
			r.set("members", codec.Encode(members))
		}
		return nil
	})
}

// Leave removes userID from the chat's members and read set. Leaving a chat
// the user is not in is a no-op.
func (s *Store) Leave(ctx context.Context, eventID, userID uint) (err error) {
	defer func() { s.observe("chat_leave", eventID, err) }()

	id := codec.FormatID(userID)
	return s.update(ctx, eventID, func(r *chatRecord) error {
		if members, changed := r.members.Remove(id); changed {
			r.set("members", codec.Encode(members))
		}
		if readBy, changed := r.readBy.Remove(id); changed {
			r.set("read_by", codec.Encode(readBy))
		}
		return nil
	})
}

// MarkRead records that userID has read the chat up to its latest message.
// Only members and the event's creator can mark a chat read.
func (s *Store) MarkRead(ctx context.Context, eventID, userID uint) (err error) {
	defer func() { s.observe("chat_read", eventID, err) }()

	id := codec.FormatID(userID)
	return s.update(ctx, eventID, func(r *chatRecord) error {
		if r.chat.CreatorID != userID && !r.members.Contains(id) {
			return fmt.Errorf("%w: user %d, event %d", ErrNotMember, userID, eventID)
		}
		if readBy, changed := r.readBy.Add(id); changed {
			r.set("read_by", codec.Encode(readBy))
		}
		return nil
	})
}

// ReadLog returns the event's messages in the order they were appended. A
// missing chat reads as an empty log.
func (s *Store) ReadLog(ctx context.Context, eventID uint) ([]Entry, error) {
	chat, err := s.find(s.db.WithContext(ctx), eventID)
	if err != nil {
		return nil, database.Classify(err)
	}
	if chat == nil {
		return []Entry{}, nil
	}

	records, err := codec.Decode(chat.Messages)
	if err != nil {
		return nil, fmt.Errorf("chat of event %d: %w", eventID, err)
	}
	entries := make([]Entry, 0, len(records))
	for i, rec := range records {
		fields, err := codec.DecodeRecord(rec, 2)
		if err != nil {
			return nil, fmt.Errorf("chat of event %d entry %d: %w", eventID, i, err)
		}
		entries = append(entries, Entry{Sender: fields[0], Text: fields[1]})
	}
	return entries, nil
}

// Chat returns the summary of an event's chat.
func (s *Store) Chat(ctx context.Context, eventID uint) (*Summary, error) {
	var chat models.Chat
	err := s.db.WithContext(ctx).Omit("messages").Where("event_id = ?", eventID).Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: event %d", ErrNoChat, eventID)
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	return summarize(&chat)
}

// Chats returns the summaries of the chats of eventIDs, most recently
// updated first. Events without a chat are skipped.
func (s *Store) Chats(ctx context.Context, eventIDs []uint) ([]Summary, error) {
	out := make([]Summary, 0, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}

	var chats []models.Chat
	err := s.db.WithContext(ctx).Omit("messages").
		Where("event_id IN ?", eventIDs).
		Order("last_update DESC").
		Find(&chats).Error
	if err != nil {
		return nil, database.Classify(err)
	}
	for i := range chats {
		sum, err := summarize(&chats[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, nil
}

func summarize(chat *models.Chat) (*Summary, error) {
	members, readBy, err := decodeSets(chat)
	if err != nil {
		return nil, err
	}
	sum := &Summary{EventID: chat.EventID, CreatorID: chat.CreatorID, LastUpdate: chat.LastUpdate}
	if sum.Members, err = members.Uints(); err != nil {
		return nil, fmt.Errorf("chat of event %d members: %w", chat.EventID, err)
	}
	if sum.ReadBy, err = readBy.Uints(); err != nil {
		return nil, fmt.Errorf("chat of event %d read set: %w", chat.EventID, err)
	}
	return sum, nil
}

func (s *Store) observe(op string, eventID uint, err error) {
	if op == "append" {
		s.metrics.ObserveAppend(err)
	} else {
		s.metrics.ObserveMembership(op, err)
	}
	if err != nil && !isExpected(err) {
		s.logger.Error("chat write failed", "op", op, "event", eventID, "error", err)
	}
}

func isExpected(err error) bool {
	return errors.Is(err, ErrNoChat) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrNotMember) ||
		errors.Is(err, locker.ErrLockTimeout)
}

// chatRecord is the decoded, mutable view of one chat row.
type chatRecord struct {
	chat    *models.Chat
	members codec.Set
	readBy  codec.Set
	updates map[string]any
}

func (r *chatRecord) set(col string, value any) {
	r.updates[col] = value
}

// update loads the chat, applies fn and writes back what fn set, all under
// the chat's lock and guarded by the row version.
func (s *Store) update(ctx context.Context, eventID uint, fn func(r *chatRecord) error) error {
	started := time.Now()
	unlock, err := s.locks.Lock(ctx, locker.Key("chat", eventID))
	if err != nil {
		return err
	}
	defer unlock()
	s.metrics.ObserveLockWait("chat", started)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	return database.CompareAndSwap(wctx, s.db, s.opts.MaxTries, func(tx *gorm.DB) error {
		chat, err := s.find(tx, eventID)
		if err != nil {
			return err
		}
		if chat == nil {
			return fmt.Errorf("%w: event %d", ErrNoChat, eventID)
		}
		members, readBy, err := decodeSets(chat)
		if err != nil {
			return err
		}

		r := &chatRecord{chat: chat, members: members, readBy: readBy, updates: map[string]any{}}
		if err := fn(r); err != nil {
			return err
		}
		if len(r.updates) == 0 {
			return nil
		}
		r.updates["version"] = gorm.Expr("version + 1")

		res := tx.Model(&models.Chat{}).
			Where("id = ? AND version = ?", chat.ID, chat.Version).
			Updates(r.updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			s.metrics.ObserveConflict("chat")
			return database.ErrVersionConflict
		}
		return nil
	})
}

func decodeSets(chat *models.Chat) (members, readBy codec.Set, err error) {
	if members, err = codec.Decode(chat.Members); err != nil {
		return nil, nil, fmt.Errorf("chat of event %d members: %w", chat.EventID, err)
	}
	if readBy, err = codec.Decode(chat.ReadBy); err != nil {
		return nil, nil, fmt.Errorf("chat of event %d read set: %w", chat.EventID, err)
	}
	return members, readBy, nil
}

func (s *Store) find(tx *gorm.DB, eventID uint) (*models.Chat, error) {
	var chat models.Chat
	err := tx.Where("event_id = ?", eventID).Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}
