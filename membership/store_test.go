package membership

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/codec"
	"github.com/CUknot/yolo_backend/locker"
	"github.com/CUknot/yolo_backend/metrics"
	"github.com/CUknot/yolo_backend/models"
	dbtest "github.com/CUknot/yolo_backend/testutil"
)

func newTestStore(t *testing.T, l locker.Locker) (*Store, *gorm.DB) {
	t.Helper()
	db := dbtest.NewDB(t)
	if l == nil {
		l = locker.NewLocal(0)
	}
	return NewStore(db, l, nil, nil, Options{}), db
}

func seedPending(t *testing.T, db *gorm.DB, userID uint, events ...string) {
	t.Helper()
	err := db.Model(&models.User{}).Where("id = ?", userID).
		Update("pending_events", codec.Encode(events)).Error
	require.NoError(t, err)
}

func TestMoveEvent_Scenario(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "7")

	require.NoError(t, s.MoveEvent(ctx, u.ID, Pending, Accepted, 7))

	snap, err := s.Snapshot(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, []uint{7}, snap.Accepted)
	assert.Empty(t, snap.Rejected)

	err = s.MoveEvent(ctx, u.ID, Pending, Accepted, 7)
	require.ErrorIs(t, err, ErrNotAMember)

	again, err := s.Snapshot(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestMoveEvent_NotAMemberLeavesRowUntouched(t *testing.T) {
	s, db := newTestStore(t, nil)
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "1")

	var before models.User
	require.NoError(t, db.First(&before, u.ID).Error)

	err := s.MoveEvent(context.Background(), u.ID, Rejected, Accepted, 1)
	require.ErrorIs(t, err, ErrNotAMember)

	var after models.User
	require.NoError(t, db.First(&after, u.ID).Error)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.PendingEvents, after.PendingEvents)
	assert.Equal(t, before.AcceptedEvents, after.AcceptedEvents)
}

func TestMoveEvent_InvalidCategories(t *testing.T) {
	s, db := newTestStore(t, nil)
	u := dbtest.CreateUser(t, db, "u1")

	assert.ErrorIs(t, s.MoveEvent(context.Background(), u.ID, Pending, Pending, 1), ErrInvalidCategory)
	assert.ErrorIs(t, s.MoveEvent(context.Background(), u.ID, "maybe", Pending, 1), ErrInvalidCategory)
}

func TestMoveEvent_UnknownUser(t *testing.T) {
	s, _ := newTestStore(t, nil)
	err := s.MoveEvent(context.Background(), 999, Pending, Accepted, 1)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestMoveEvent_MergesWhenTargetAlreadyHoldsEvent(t *testing.T) {
	s, db := newTestStore(t, nil)
	u := dbtest.CreateUser(t, db, "u1")
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"pending_events":  codec.Encode([]string{"5"}),
		"accepted_events": codec.Encode([]string{"5"}),
	}).Error)

	require.NoError(t, s.MoveEvent(context.Background(), u.ID, Pending, Accepted, 5))

	snap, err := s.Snapshot(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, []uint{5}, snap.Accepted)
}

func TestMoveEvent_CorruptCellFails(t *testing.T) {
	s, db := newTestStore(t, nil)
	u := dbtest.CreateUser(t, db, "u1")
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", u.ID).
		Update("rejected_events", "3,4").Error)
	seedPending(t, db, u.ID, "1")

	err := s.MoveEvent(context.Background(), u.ID, Pending, Accepted, 1)
	require.ErrorIs(t, err, codec.ErrCorruptEncoding)

	var after models.User
	require.NoError(t, db.First(&after, u.ID).Error)
	assert.Equal(t, "[1,]", after.PendingEvents)
}

func TestMoveEvent_DisjointUnderRandomMoves(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "1", "2", "3", "4", "5")

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		from := Categories[rng.Intn(3)]
		to := Categories[rng.Intn(3)]
		if from == to {
			continue
		}
		event := uint(rng.Intn(5) + 1)
		err := s.MoveEvent(ctx, u.ID, from, to, event)
		if err != nil {
			require.ErrorIs(t, err, ErrNotAMember)
		}

		snap, err := s.Snapshot(ctx, u.ID)
		require.NoError(t, err)
		seen := map[uint]int{}
		for _, set := range [][]uint{snap.Pending, snap.Accepted, snap.Rejected} {
			for _, id := range set {
				seen[id]++
			}
		}
		require.Len(t, seen, 5)
		for id, n := range seen {
			require.Equal(t, 1, n, "event %d in %d categories", id, n)
		}
	}
}

func TestMoveEvent_ConcurrentMovesAllLand(t *testing.T) {
	s, db := newTestStore(t, nil)
	u := dbtest.CreateUser(t, db, "u1")

	const n = 12
	events := make([]string, n)
	for i := range events {
		events[i] = codec.FormatID(uint(i + 1))
	}
	seedPending(t, db, u.ID, events...)

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(event uint) {
			defer wg.Done()
			to := Accepted
			if event%2 == 0 {
				to = Rejected
			}
			assert.NoError(t, s.MoveEvent(context.Background(), u.ID, Pending, to, event))
		}(uint(i))
	}
	wg.Wait()

	snap, err := s.Snapshot(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Len(t, snap.Accepted, n/2)
	assert.Len(t, snap.Rejected, n/2)
}

// cancelOnLock cancels the caller's context right after the lock is granted.
type cancelOnLock struct {
	locker.Locker
	cancel context.CancelFunc
}

func (c cancelOnLock) Lock(ctx context.Context, key string) (locker.Unlock, error) {
	unlock, err := c.Locker.Lock(ctx, key)
	c.cancel()
	return unlock, err
}

func TestMoveEvent_CompletesAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, db := newTestStore(t, cancelOnLock{Locker: locker.NewLocal(0), cancel: cancel})
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "3")

	require.NoError(t, s.MoveEvent(ctx, u.ID, Pending, Rejected, 3))
	require.Error(t, ctx.Err())

	snap, err := s.Snapshot(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{3}, snap.Rejected)
}

func TestMoveEvent_LockTimeout(t *testing.T) {
	l := locker.NewLocal(20 * time.Millisecond)
	s, db := newTestStore(t, l)
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "3")

	unlock, err := l.Lock(context.Background(), locker.Key("user", u.ID))
	require.NoError(t, err)
	defer unlock()

	err = s.MoveEvent(context.Background(), u.ID, Pending, Accepted, 3)
	require.ErrorIs(t, err, locker.ErrLockTimeout)

	other := dbtest.CreateUser(t, db, "u2")
	seedPending(t, db, other.ID, "3")
	assert.NoError(t, s.MoveEvent(context.Background(), other.ID, Pending, Accepted, 3))
}

func TestInviteToEvent(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	u := dbtest.CreateUser(t, db, "u1")

	added, err := s.InviteToEvent(ctx, u.ID, 4)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.InviteToEvent(ctx, u.ID, 4)
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, s.MoveEvent(ctx, u.ID, Pending, Rejected, 4))
	added, err = s.InviteToEvent(ctx, u.ID, 4)
	require.NoError(t, err)
	assert.False(t, added)

	snap, err := s.Snapshot(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, []uint{4}, snap.Rejected)
}

func TestAddRequest_Idempotent(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	target := dbtest.CreateUser(t, db, "target")
	sender := dbtest.CreateUser(t, db, "sender")

	require.NoError(t, s.AddRequest(ctx, target.ID, sender.ID))
	once, err := s.Snapshot(ctx, target.ID)
	require.NoError(t, err)

	require.NoError(t, s.AddRequest(ctx, target.ID, sender.ID))
	twice, err := s.Snapshot(ctx, target.ID)
	require.NoError(t, err)

	assert.Equal(t, []uint{sender.ID}, once.FriendRequests)
	assert.Equal(t, once, twice)
	assert.ErrorIs(t, s.AddRequest(ctx, target.ID, target.ID), ErrSelfRequest)
}

func TestAddRequest_ConcurrentSenders(t *testing.T) {
	s, db := newTestStore(t, nil)
	target := dbtest.CreateUser(t, db, "target")

	const n = 10
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(from uint) {
			defer wg.Done()
			assert.NoError(t, s.AddRequest(context.Background(), target.ID, from))
		}(target.ID + uint(i))
	}
	wg.Wait()

	snap, err := s.Snapshot(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Len(t, snap.FriendRequests, n)
}

func TestWithdrawRequest(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	target := dbtest.CreateUser(t, db, "target")
	sender := dbtest.CreateUser(t, db, "sender")

	assert.ErrorIs(t, s.WithdrawRequest(ctx, target.ID, sender.ID), ErrNotFound)

	require.NoError(t, s.AddRequest(ctx, target.ID, sender.ID))
	require.NoError(t, s.WithdrawRequest(ctx, target.ID, sender.ID))

	rel, err := s.Relationship(ctx, sender.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, Relationship{}, rel)

	assert.ErrorIs(t, s.WithdrawRequest(ctx, target.ID, sender.ID), ErrNotFound)
}

func TestAcceptRequestAndUnfriend(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	target := dbtest.CreateUser(t, db, "target")
	sender := dbtest.CreateUser(t, db, "sender")

	assert.ErrorIs(t, s.AcceptRequest(ctx, target.ID, sender.ID), ErrNotFound)

	require.NoError(t, s.AddRequest(ctx, target.ID, sender.ID))
	rel, err := s.Relationship(ctx, sender.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, Relationship{Pending: true}, rel)

	require.NoError(t, s.AcceptRequest(ctx, target.ID, sender.ID))

	rel, err = s.Relationship(ctx, sender.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, Relationship{Friend: true}, rel)

	rel, err = s.Relationship(ctx, target.ID, sender.ID)
	require.NoError(t, err)
	assert.Equal(t, Relationship{Friend: true}, rel)

	require.NoError(t, s.Unfriend(ctx, sender.ID, target.ID))
	require.NoError(t, s.Unfriend(ctx, sender.ID, target.ID))

	snapTarget, err := s.Snapshot(ctx, target.ID)
	require.NoError(t, err)
	snapSender, err := s.Snapshot(ctx, sender.ID)
	require.NoError(t, err)
	assert.Empty(t, snapTarget.Friends)
	assert.Empty(t, snapSender.Friends)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Accepted ")
	require.NoError(t, err)
	assert.Equal(t, Accepted, c)

	_, err = ParseCategory("viewed")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestStore_RecordsMetrics(t *testing.T) {
	db := dbtest.NewDB(t)
	m := metrics.New(prometheus.NewRegistry())
	s := NewStore(db, locker.NewLocal(0), m, nil, Options{})
	u := dbtest.CreateUser(t, db, "u1")

	_ = s.MoveEvent(context.Background(), u.ID, Pending, Accepted, 1)
	require.NoError(t, s.AddRequest(context.Background(), u.ID, u.ID+1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MembershipOps.WithLabelValues("move_event", metrics.Error)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MembershipOps.WithLabelValues("add_request", metrics.OK)))
}

type rosterCall struct {
	op            string
	event, userID uint
}

type fakeRoster struct {
	mu    sync.Mutex
	calls []rosterCall
	err   error
}

func (f *fakeRoster) Join(ctx context.Context, eventID, userID uint) error {
	return f.record("join", eventID, userID)
}

func (f *fakeRoster) Leave(ctx context.Context, eventID, userID uint) error {
	return f.record("leave", eventID, userID)
}

func (f *fakeRoster) record(op string, eventID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rosterCall{op, eventID, userID})
	return f.err
}

func TestMoveEvent_JoinsAndLeavesChat(t *testing.T) {
	db := dbtest.NewDB(t)
	roster := &fakeRoster{}
	s := NewStore(db, locker.NewLocal(0), nil, nil, Options{Chats: roster})
	ctx := context.Background()
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "7", "8")

	require.NoError(t, s.MoveEvent(ctx, u.ID, Pending, Accepted, 7))
	require.NoError(t, s.MoveEvent(ctx, u.ID, Pending, Rejected, 8))

	chats, err := s.UserChats(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, chats)

	require.NoError(t, s.MoveEvent(ctx, u.ID, Accepted, Rejected, 7))

	chats, err = s.UserChats(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, chats)

	assert.Equal(t, []rosterCall{
		{"join", 7, u.ID},
		{"leave", 7, u.ID},
	}, roster.calls, "moves that never touch accepted leave the roster alone")
}

func TestMoveEvent_RosterFailureKeepsUserSide(t *testing.T) {
	db := dbtest.NewDB(t)
	roster := &fakeRoster{err: errors.New("chat store down")}
	s := NewStore(db, locker.NewLocal(0), nil, nil, Options{Chats: roster})
	ctx := context.Background()
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "7")

	err := s.MoveEvent(ctx, u.ID, Pending, Accepted, 7)
	require.ErrorIs(t, err, roster.err)

	snap, err := s.Snapshot(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, snap.Accepted)
	assert.Equal(t, []uint{7}, snap.Chats)
}

func TestMoveEvent_NoRosterConfigured(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	u := dbtest.CreateUser(t, db, "u1")
	seedPending(t, db, u.ID, "3")

	require.NoError(t, s.MoveEvent(ctx, u.ID, Pending, Accepted, 3))
	chats, err := s.UserChats(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{3}, chats)

	_, err = s.UserChats(ctx, 999)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestBlockUser(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	a := dbtest.CreateUser(t, db, "a")
	b := dbtest.CreateUser(t, db, "b")
	c := dbtest.CreateUser(t, db, "c")

	require.NoError(t, s.AddRequest(ctx, a.ID, b.ID))
	require.NoError(t, s.AcceptRequest(ctx, a.ID, b.ID))
	require.NoError(t, s.AddRequest(ctx, b.ID, c.ID))

	require.NoError(t, s.BlockUser(ctx, a.ID, b.ID))

	snapA, err := s.Snapshot(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, snapA.Friends)
	assert.Equal(t, []uint{b.ID}, snapA.Blocked)
	snapB, err := s.Snapshot(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, snapB.Friends)
	assert.Equal(t, []uint{c.ID}, snapB.FriendRequests, "requests from third parties survive")

	rel, err := s.Relationship(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, Relationship{Blocked: true}, rel)

	assert.ErrorIs(t, s.AddRequest(ctx, a.ID, b.ID), ErrBlocked)
	assert.ErrorIs(t, s.AddRequest(ctx, b.ID, a.ID), ErrBlocked)
	assert.ErrorIs(t, s.BlockUser(ctx, a.ID, a.ID), ErrSelfBlock)

	require.NoError(t, s.UnblockUser(ctx, a.ID, b.ID))
	require.NoError(t, s.UnblockUser(ctx, a.ID, b.ID))
	rel, err = s.Relationship(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, Relationship{}, rel, "unblocking does not restore the friendship")
	require.NoError(t, s.AddRequest(ctx, a.ID, b.ID))
}

func TestBlockUser_DropsPendingRequestsBothWays(t *testing.T) {
	s, db := newTestStore(t, nil)
	ctx := context.Background()
	a := dbtest.CreateUser(t, db, "a")
	b := dbtest.CreateUser(t, db, "b")

	require.NoError(t, s.AddRequest(ctx, a.ID, b.ID))
	require.NoError(t, s.BlockUser(ctx, b.ID, a.ID))

	snapA, err := s.Snapshot(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, snapA.FriendRequests)
	assert.ErrorIs(t, s.AcceptRequest(ctx, a.ID, b.ID), ErrNotFound)
}
