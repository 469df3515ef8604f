package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// Gate serializes work on one asset across goroutines and, when lockDir is
// set, across processes sharing the same state directory. Keys are folded
// asset names, so "Chair" and "chair" share a slot.
type Gate struct {
	lockDir string

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

// NewGate returns a gate whose cross-process lock files live in lockDir. An
// empty lockDir limits the gate to this process.
func NewGate(lockDir string) *Gate {
	return &Gate{lockDir: lockDir, slots: make(map[string]*slot)}
}

// Acquire blocks until name is free or ctx is done. The returned release is
// safe to call more than once.
func (g *Gate) Acquire(ctx context.Context, name string) (func(), error) {
	key := FoldName(name)
	s := g.ref(key)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		g.unref(key)
		return nil, ctx.Err()
	}

	var fileLock *flock.Flock
	if g.lockDir != "" {
		if err := os.MkdirAll(g.lockDir, 0o755); err != nil {
			<-s.sem
			g.unref(key)
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
		fileLock = flock.New(filepath.Join(g.lockDir, "asset-"+key+".lock"))
		locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil || !locked {
			<-s.sem
			g.unref(key)
			if err == nil {
				err = fmt.Errorf("lock %s not acquired", fileLock.Path())
			}
			return nil, fmt.Errorf("acquire asset lock: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fileLock != nil {
				_ = fileLock.Unlock()
			}
			<-s.sem
			g.unref(key)
		})
	}, nil
}

// held reports how many keys currently have waiters or holders.
func (g *Gate) held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}

func (g *Gate) ref(key string) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		g.slots[key] = s
	}
	s.refs++
	return s
}

func (g *Gate) unref(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(g.slots, key)
	}
}
