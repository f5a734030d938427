package locker

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. Slots are created on demand and dropped once
// nobody holds or waits for them.
type Local struct {
	Timeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Local locker. A zero timeout waits indefinitely.
func NewLocal(timeout time.Duration) *Local {
	return &Local{
		Timeout: timeout,
		slots:   make(map[string]*slot),
	}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	s := l.acquireSlot(key)

	// fast path keeps uncontended locks free of timer allocation
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), nil
	default:
	}

	waitCtx, cancel := waitContext(ctx, l.Timeout)
	defer cancel()

	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), nil
	case <-waitCtx.Done():
		l.releaseSlot(key, s)
		return nil, waitError(ctx, key, l.Timeout)
	}
}

func (l *Local) unlocker(key string, s *slot) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.releaseSlot(key, s)
		})
	}
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
