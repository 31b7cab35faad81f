package sem

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestInitialCount(t *testing.T) {
	s := New(2, 10)
	if !s.TryWait() || !s.TryWait() {
		t.Fatalf("expected two initial permits")
	}
	if s.TryWait() {
		t.Fatalf("expected no third permit")
	}
}

func TestPostWait(t *testing.T) {
	s := New(0, 4)
	if s.TryWait() {
		t.Fatalf("expected empty semaphore")
	}
	s.Post()
	s.Post()
	s.Wait()
	if !s.TryWait() {
		t.Fatalf("expected second permit")
	}
}

func TestWaitBlocksUntilPost(t *testing.T) {
	s := New(0, 1)
	woke := make(chan struct{})
	go func() {
		s.Wait()
		close(woke)
	}()
	select {
	case <-woke:
		t.Fatalf("wait returned before post")
	case <-time.After(20 * time.Millisecond):
	}
	s.Post()
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatalf("wait did not return after post")
	}
}

func TestWaitContextCancel(t *testing.T) {
	s := New(0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WaitContext(ctx); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestCapacityGrowsToInitial(t *testing.T) {
	s := New(5, 2)
	if s.Capacity() != 5 {
		t.Fatalf("capacity = %d, want 5", s.Capacity())
	}
}

func TestConcurrentHandoff(t *testing.T) {
	const n = 500
	s := New(0, n)
	var wg sync.WaitGroup
	wg.Add(1)
	got := 0
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s.Wait()
			got++
		}
	}()
	for i := 0; i < n; i++ {
		s.Post()
	}
	wg.Wait()
	if got != n {
		t.Fatalf("consumer saw %d permits, want %d", got, n)
	}
}
