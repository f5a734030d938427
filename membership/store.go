// Package membership keeps each user's categorised event sets, chat set,
// friend sets and block sets. Every write is a read-modify-write of the user row performed under
// the user's lock and committed with a version check, so the three event
// categories stay pairwise disjoint and concurrent writers never lose updates.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/codec"
	"github.com/CUknot/yolo_backend/database"
	"github.com/CUknot/yolo_backend/locker"
	"github.com/CUknot/yolo_backend/metrics"
	"github.com/CUknot/yolo_backend/models"
)

type column string

const (
	colPending   column = "pending_events"
	colAccepted  column = "accepted_events"
	colRejected  column = "rejected_events"
	colRequests  column = "friend_requests"
	colFriends   column = "friends"
	colChats     column = "chats"
	colBlocked   column = "blocked_users"
	colBlockedBy column = "blocked_by"
)

var allColumns = []column{colPending, colAccepted, colRejected, colRequests, colFriends, colChats, colBlocked, colBlockedBy}

// ChatRoster keeps the member list of an event's chat. Accepting an event
// joins its chat and moving it out of accepted leaves it.
type ChatRoster interface {
	Join(ctx context.Context, eventID, userID uint) error
	Leave(ctx context.Context, eventID, userID uint) error
}

// Options tunes the write path.
type Options struct {
	// WriteTimeout bounds a write once the lock is held. The write runs
	// detached from the caller's cancellation so it either commits or rolls
	// back as a whole.
	WriteTimeout time.Duration
	MaxTries     uint
	// Chats is told about accepted-set changes after the user row commits.
	// Nil skips chat membership.
	Chats ChatRoster
}

type Store struct {
	db      *gorm.DB
	locks   locker.Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options
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
	return &Store{db: db, locks: locks, metrics: m, logger: logger, opts: opts}
}

// Snapshot is the decoded state of one user's collections.
type Snapshot struct {
	Pending        []uint `json:"pending"`
	Accepted       []uint `json:"accepted"`
	Rejected       []uint `json:"rejected"`
	FriendRequests []uint `json:"friend_requests"`
	Friends        []uint `json:"friends"`
	Chats          []uint `json:"chats"`
	Blocked        []uint `json:"blocked"`
}

// Relationship describes how a viewer relates to a viewed user.
type Relationship struct {
	Friend  bool `json:"friend"`
	Pending bool `json:"pending"`
	// Blocked is set when either side has blocked the other.
	Blocked bool `json:"blocked"`
}

// MoveEvent moves eventID from one category to another. The event must be in
// from; if to already holds it the move still succeeds and the event ends up
// only in to. Moving into accepted adds the event's chat to the user's chats
// and moving out of accepted removes it, in the same write. The chat roster
// is updated once the user row has committed.
func (s *Store) MoveEvent(ctx context.Context, userID uint, from, to Category, eventID uint) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidCategory, from, to)
	}
	if from == to {
		return fmt.Errorf("%w: source and target are both %q", ErrInvalidCategory, from)
	}

	id := codec.FormatID(eventID)
	var left bool
	err := s.mutate(ctx, "move_event", userID, func(r *record) error {
		if !r.get(from.column()).Contains(id) {
			return fmt.Errorf("%w: event %s not in %s", ErrNotAMember, id, from)
		}
		for _, c := range Categories {
			if c != to {
				r.remove(c.column(), id)
			}
		}
		r.add(to.column(), id)
		if to == Accepted {
			r.add(colChats, id)
			left = false
		} else {
			left = r.remove(colChats, id)
		}
		return nil
	})
	if err != nil || s.opts.Chats == nil {
		return err
	}

	switch {
	case to == Accepted:
		err = s.opts.Chats.Join(ctx, eventID, userID)
	case left:
		err = s.opts.Chats.Leave(ctx, eventID, userID)
	}
	if err != nil {
		s.logger.Error("chat roster out of step with accepted events",
			"user", userID, "event", eventID, "to", to, "error", err)
	}
	return err
}

// InviteToEvent puts eventID in the user's pending set unless the user has
// already classified it. It reports whether the event was added.
func (s *Store) InviteToEvent(ctx context.Context, userID, eventID uint) (bool, error) {
	id := codec.FormatID(eventID)
	added := false
	err := s.mutate(ctx, "invite_event", userID, func(r *record) error {
		added = false
		for _, c := range Categories {
			if r.get(c.column()).Contains(id) {
				return nil
			}
		}
		added = r.add(colPending, id)
		return nil
	})
	return added, err
}

// AddRequest records a pending friend request from `from` to target. Adding
// an existing request is a no-op. Either side having blocked the other
// refuses the request.
func (s *Store) AddRequest(ctx context.Context, target, from uint) error {
	if target == from {
		return ErrSelfRequest
	}
	id := codec.FormatID(from)
	return s.mutate(ctx, "add_request", target, func(r *record) error {
		if r.get(colBlocked).Contains(id) || r.get(colBlockedBy).Contains(id) {
			return fmt.Errorf("%w: users %d and %s", ErrBlocked, target, id)
		}
		r.add(colRequests, id)
		return nil
	})
}

// WithdrawRequest removes the pending request from `from` to target.
func (s *Store) WithdrawRequest(ctx context.Context, target, from uint) error {
	id := codec.FormatID(from)
	return s.mutate(ctx, "withdraw_request", target, func(r *record) error {
		if !r.remove(colRequests, id) {
			return fmt.Errorf("%w: no request from %s to %d", ErrNotFound, id, target)
		}
		return nil
	})
}

// AcceptRequest turns the request from `from` into a friendship. The two users
// are updated one after the other, each under its own lock.
func (s *Store) AcceptRequest(ctx context.Context, target, from uint) error {
	fromID, targetID := codec.FormatID(from), codec.FormatID(target)

	err := s.mutate(ctx, "accept_request", target, func(r *record) error {
		if !r.remove(colRequests, fromID) {
			return fmt.Errorf("%w: no request from %s to %d", ErrNotFound, fromID, target)
		}
		r.add(colFriends, fromID)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.mutate(ctx, "accept_request", from, func(r *record) error {
		r.add(colFriends, targetID)
		return nil
	})
	if err != nil {
		s.logger.Error("friendship recorded on one side only",
			"target", target, "from", from, "error", err)
	}
	return err
}

// Unfriend removes the friendship in both directions. Removing a friendship
// that does not exist is not an error.
func (s *Store) Unfriend(ctx context.Context, userID, friendID uint) error {
	pairs := [][2]uint{{userID, friendID}, {friendID, userID}}
	for _, p := range pairs {
		other := codec.FormatID(p[1])
		err := s.mutate(ctx, "unfriend", p[0], func(r *record) error {
			r.remove(colFriends, other)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// BlockUser records that userID blocks blockedID. Any friendship and pending
// request between the two is dropped. The blocker is written first, then the
// blocked user, each under its own lock.
func (s *Store) BlockUser(ctx context.Context, userID, blockedID uint) error {
	if userID == blockedID {
		return ErrSelfBlock
	}
	blocker, blocked := codec.FormatID(userID), codec.FormatID(blockedID)

	err := s.mutate(ctx, "block_user", userID, func(r *record) error {
		r.add(colBlocked, blocked)
		r.remove(colFriends, blocked)
		r.remove(colRequests, blocked)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.mutate(ctx, "block_user", blockedID, func(r *record) error {
		r.add(colBlockedBy, blocker)
		r.remove(colFriends, blocker)
		r.remove(colRequests, blocker)
		return nil
	})
	if err != nil {
		s.logger.Error("block recorded on one side only",
			"user", userID, "blocked", blockedID, "error", err)
	}
	return err
}

// UnblockUser lifts a block. Friendships dropped by the block stay dropped.
func (s *Store) UnblockUser(ctx context.Context, userID, blockedID uint) error {
	if userID == blockedID {
		return ErrSelfBlock
	}
	blocker, blocked := codec.FormatID(userID), codec.FormatID(blockedID)

	err := s.mutate(ctx, "unblock_user", userID, func(r *record) error {
		r.remove(colBlocked, blocked)
		return nil
	})
	if err != nil {
		return err
	}
	err = s.mutate(ctx, "unblock_user", blockedID, func(r *record) error {
		r.remove(colBlockedBy, blocker)
		return nil
	})
	if err != nil {
		s.logger.Error("unblock recorded on one side only",
			"user", userID, "blocked", blockedID, "error", err)
	}
	return err
}

// UserChats returns the events whose chats the user belongs to, in the
// order they were joined.
func (s *Store) UserChats(ctx context.Context, userID uint) ([]uint, error) {
	r, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids, err := r.get(colChats).Uints()
	if err != nil {
		return nil, fmt.Errorf("user %d %s: %w", userID, colChats, err)
	}
	return ids, nil
}

// Snapshot returns every collection of the user as stored now.
func (s *Store) Snapshot(ctx context.Context, userID uint) (*Snapshot, error) {
	r, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	targets := map[column]*[]uint{
		colPending:  &snap.Pending,
		colAccepted: &snap.Accepted,
		colRejected: &snap.Rejected,
		colRequests: &snap.FriendRequests,
		colFriends:  &snap.Friends,
		colChats:    &snap.Chats,
		colBlocked:  &snap.Blocked,
	}
	for col, dst := range targets {
		ids, err := r.get(col).Uints()
		if err != nil {
			return nil, fmt.Errorf("user %d %s: %w", userID, col, err)
		}
		*dst = ids
	}
	return snap, nil
}

// Relationship reports whether viewer is a friend of viewed or has a pending
// request to them.
func (s *Store) Relationship(ctx context.Context, viewer, viewed uint) (Relationship, error) {
	r, err := s.read(ctx, viewed)
	if err != nil {
		return Relationship{}, err
	}
	id := codec.FormatID(viewer)
	return Relationship{
		Friend:  r.get(colFriends).Contains(id),
		Pending: r.get(colRequests).Contains(id),
		Blocked: r.get(colBlocked).Contains(id) || r.get(colBlockedBy).Contains(id),
	}, nil
}

func (s *Store) read(ctx context.Context, userID uint) (*record, error) {
	r, err := load(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, database.Classify(err)
	}
	return r, nil
}

// mutate loads the user's collections, applies fn and writes back the
// columns fn changed, all under the user's lock.
func (s *Store) mutate(ctx context.Context, op string, userID uint, fn func(r *record) error) (err error) {
	defer func() {
		s.metrics.ObserveMembership(op, err)
		if err != nil && !isExpected(err) {
			s.logger.Error("membership write failed", "op", op, "user", userID, "error", err)
		}
	}()

	started := time.Now()
	unlock, err := s.locks.Lock(ctx, locker.Key("user", userID))
	if err != nil {
		return err
	}
	defer unlock()
	s.metrics.ObserveLockWait("user", started)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	return database.CompareAndSwap(wctx, s.db, s.opts.MaxTries, func(tx *gorm.DB) error {
		r, err := load(tx, userID)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}

		updates := r.changes()
		if len(updates) == 0 {
			return nil
		}
		updates["version"] = gorm.Expr("version + 1")

		res := tx.Model(&models.User{}).
			Where("id = ? AND version = ?", userID, r.version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			s.metrics.ObserveConflict("user")
			return database.ErrVersionConflict
		}
		return nil
	})
}

func isExpected(err error) bool {
	return errors.Is(err, ErrNotAMember) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrSelfRequest) ||
		errors.Is(err, ErrSelfBlock) ||
		errors.Is(err, ErrBlocked) ||
		errors.Is(err, locker.ErrLockTimeout)
}

// record is the decoded, mutable view of one user row.
type record struct {
	version int64
	sets    map[column]codec.Set
	dirty   map[column]bool
}

func load(tx *gorm.DB, userID uint) (*record, error) {
	var u models.User
	cols := []string{"id", "version"}
	for _, c := range allColumns {
		cols = append(cols, string(c))
	}
	err := tx.Select(cols).Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	if err != nil {
		return nil, err
	}

	raw := map[column]string{
		colPending:   u.PendingEvents,
		colAccepted:  u.AcceptedEvents,
		colRejected:  u.RejectedEvents,
		colRequests:  u.FriendRequests,
		colFriends:   u.Friends,
		colChats:     u.Chats,
		colBlocked:   u.BlockedUsers,
		colBlockedBy: u.BlockedBy,
	}
	r := &record{
		version: u.Version,
		sets:    make(map[column]codec.Set, len(raw)),
		dirty:   make(map[column]bool),
	}
	for col, value := range raw {
		items, err := codec.Decode(value)
		if err != nil {
			return nil, fmt.Errorf("user %d %s: %w", userID, col, err)
		}
		r.sets[col] = items
	}
	return r, nil
}

func (r *record) get(col column) codec.Set {
	return r.sets[col]
}

func (r *record) add(col column, id string) bool {
	next, changed := r.sets[col].Add(id)
	if changed {
		r.sets[col] = next
		r.dirty[col] = true
	}
	return changed
}

func (r *record) remove(col column, id string) bool {
	next, changed := r.sets[col].Remove(id)
	if changed {
		r.sets[col] = next
		r.dirty[col] = true
	}
	return changed
}

// changes encodes only the modified columns so one UPDATE persists them
// together.
func (r *record) changes() map[string]any {
	updates := make(map[string]any, len(r.dirty)+1)
	for col := range r.dirty {
		updates[string(col)] = codec.Encode(r.sets[col])
	}
	return updates
}
