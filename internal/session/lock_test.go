package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWithLock_SubmissionOrder(t *testing.T) {
	t.Parallel()
	locker := NewLocker()
	ctx := context.Background()

	var mu sync.Mutex
	var order []int

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, "k", func(ctx context.Context) error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()
	<-started

	// Queue two more in a known submission order. Each is submitted only
	// after the previous one is registered in the gate map.
	for i := 2; i <= 3; i++ {
		i := i
		wg.Add(1)
		submitted := make(chan struct{})
		go func() {
			close(submitted)
			defer wg.Done()
			_ = locker.WithLock(ctx, "k", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		<-submitted
		// Give the goroutine time to install its gate before the next submit.
		time.Sleep(20 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("execution order = %v, want [1 2 3]", order)
	}
}

func TestWithLock_DistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()
	locker := NewLocker()
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, "a", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, "b", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("key b blocked behind key a")
	}
	close(release)
}

func TestWithLock_EntryRemovedAfterLastCall(t *testing.T) {
	t.Parallel()
	locker := NewLocker()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if locker.Pending("k") {
		t.Fatalf("lock map entry for settled key must be removed")
	}
}

func TestWithLock_ErrorPropagatesAndReleases(t *testing.T) {
	t.Parallel()
	locker := NewLocker()
	ctx := context.Background()
	wantErr := errors.New("boom")

	err := locker.WithLock(ctx, "k", func(ctx context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithLock error = %v, want %v", err, wantErr)
	}
	if locker.Pending("k") {
		t.Fatalf("failed call must still clean up its entry")
	}

	// A later call for the same key must not deadlock.
	done := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("key deadlocked after a failed call")
	}
}

func TestWithLock_NeverInterleaves(t *testing.T) {
	t.Parallel()
	locker := NewLocker()
	ctx := context.Background()

	var inside int
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- locker.WithLock(ctx, "k", func(ctx context.Context) error {
				inside++
				if inside != 1 {
					return errors.New("interleaved execution")
				}
				time.Sleep(time.Millisecond)
				inside--
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("WithLock error = %v", err)
		}
	}
}
