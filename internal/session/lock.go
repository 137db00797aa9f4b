// Package session reconciles durable conversation sessions and serializes
// concurrent reconciliation per chat key.
package session

import (
	"context"
	"sync"
)

type gate struct {
	done chan struct{}
}

// Locker serializes calls sharing a key. Calls for different keys never block
// each other. Each call installs its own gate and waits for the previous
// holder's gate, so calls run in submission order.
type Locker struct {
	mu    sync.Mutex
	gates map[string]*gate
}

func NewLocker() *Locker {
	return &Locker{gates: map[string]*gate{}}
}

// WithLock runs fn once all earlier calls for the same key have settled. The
// map entry is removed only when it still points at this call's gate, so a
// key with queued callers is cleaned up exactly once, after the last one.
// fn's error propagates after the gate is released.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	prev := l.gates[key]
	g := &gate{done: make(chan struct{})}
	l.gates[key] = g
	l.mu.Unlock()

	release := func() {
		close(g.done)
		l.mu.Lock()
		if l.gates[key] == g {
			delete(l.gates, key)
		}
		l.mu.Unlock()
	}

	// Waiting is not cancellable: releasing early would let a later caller
	// overlap with the current holder.
	if prev != nil {
		<-prev.done
	}

	defer release()
	return fn(ctx)
}

// Pending reports whether any call currently holds or awaits the key.
func (l *Locker) Pending(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.gates[key]
	return ok
}
