package locker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValkey(t *testing.T, ttl, timeout time.Duration) (*Valkey, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client, err := DialValkey(s.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return NewValkey(client, ttl, timeout, nil), s
}

func TestValkey_MutualExclusion(t *testing.T) {
	l, _ := newTestValkey(t, 5*time.Second, 0)
	exerciseMutualExclusion(t, l)
}

func TestValkey_TimeoutWhileHeld(t *testing.T) {
	l, s := newTestValkey(t, 5*time.Second, 50*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "user:9")
	require.NoError(t, err)
	assert.True(t, s.Exists("lock:user:9"))

	_, err = l.Lock(context.Background(), "user:9")
	require.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, s.Exists("lock:user:9"))

	unlock, err = l.Lock(context.Background(), "user:9")
	require.NoError(t, err)
	unlock()
}

func TestValkey_ExpiredHolderCannotReleaseNewHolder(t *testing.T) {
	l, s := newTestValkey(t, time.Second, 50*time.Millisecond)

	staleUnlock, err := l.Lock(context.Background(), "chat:1")
	require.NoError(t, err)

	s.FastForward(2 * time.Second)

	unlock, err := l.Lock(context.Background(), "chat:1")
	require.NoError(t, err)
	owner, err := s.Get("lock:chat:1")
	require.NoError(t, err)

	staleUnlock()
	current, err := s.Get("lock:chat:1")
	require.NoError(t, err)
	assert.Equal(t, owner, current)

	unlock()
	assert.False(t, s.Exists("lock:chat:1"))
}

func TestValkey_ServerDown(t *testing.T) {
	l, s := newTestValkey(t, time.Second, 200*time.Millisecond)
	s.Close()

	_, err := l.Lock(context.Background(), "user:1")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrLockTimeout)

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "user:1", ue.Key)
	assert.Error(t, ue.Err)
}

func TestUnavailableError_Unwraps(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("move event: %w", &UnavailableError{Key: "chat:3", Err: cause})

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "chat:3")
}
