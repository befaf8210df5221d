// Package keylock serializes work per key while letting different keys run in parallel.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
)

// Locker hands out one exclusive slot per key. Waiters on the same key are served in
// arrival order; a wait longer than the configured bound fails with models.ErrBusy.
type Locker[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*slot
	wait  time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// New returns a Locker whose Lock gives up after wait. A zero wait means wait forever
// (still bounded by the caller's context).
func New[K comparable](wait time.Duration) *Locker[K] {
	return &Locker[K]{
		slots: make(map[K]*slot),
		wait:  wait,
	}
}

// Lock acquires the slot for key. The returned func releases it and must be called exactly once.
func (l *Locker[K]) Lock(ctx context.Context, key K) (func(), error) {
	// a free slot would otherwise win the select below against an already cancelled ctx
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := l.acquireRef(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		t := time.NewTimer(l.wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case s.ch <- struct{}{}:
	case <-timeout:
		l.releaseRef(key, s)
		return nil, fmt.Errorf("lock %v held longer than %s: %w", key, l.wait, models.ErrBusy)
	case <-ctx.Done():
		l.releaseRef(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.releaseRef(key, s)
		})
	}, nil
}

// Len is the number of keys currently held or waited on.
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Locker[K]) acquireRef(key K) *slot {
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

func (l *Locker[K]) releaseRef(key K, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
