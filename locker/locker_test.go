package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "user:42", Key("user", 42))
	assert.Equal(t, "chat:7", Key("chat", 7))
}

// exerciseMutualExclusion has many goroutines take the same key and records
// the highest number of holders seen at once.
func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	const workers = 20
	var inside, maxInside, done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "user:1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			done.Add(1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, int32(workers), done.Load())
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal(0)
	exerciseMutualExclusion(t, l)
	assert.Equal(t, 0, l.held())
}

func TestLocal_Timeout(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)

	unlock, err := l.Lock(context.Background(), "chat:3")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "chat:3")
	require.ErrorIs(t, err, ErrLockTimeout)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "chat:3", te.Key)
}

func TestLocal_CallerCancellation(t *testing.T) {
	l := NewLocal(0)

	unlock, err := l.Lock(context.Background(), "chat:3")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Lock(ctx, "chat:3")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)

	unlockA, err := l.Lock(context.Background(), "user:1")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(context.Background(), "user:2")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)

	unlock, err := l.Lock(context.Background(), "user:1")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), "user:1")
	require.NoError(t, err)
	unlock()
	assert.Equal(t, 0, l.held())
}
