package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTryAcquireExhaustsBudget(t *testing.T) {
	l := New(map[Channel]Budget{
		ChannelREST: {Capacity: 3, Window: time.Hour},
	})
	for i := 0; i < 3; i++ {
		if !l.TryAcquire(ChannelREST) {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if l.TryAcquire(ChannelREST) {
		t.Fatal("request beyond capacity should be rejected")
	}
	admitted, rejected := l.Stats(ChannelREST)
	if admitted != 3 || rejected != 1 {
		t.Fatalf("stats = (%d, %d), want (3, 1)", admitted, rejected)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	l := New(map[Channel]Budget{
		ChannelREST:   {Capacity: 1, Window: time.Hour},
		ChannelStream: {Capacity: 1, Window: time.Hour},
	})
	if !l.TryAcquire(ChannelREST) {
		t.Fatal("rest should be admitted")
	}
	if !l.TryAcquire(ChannelStream) {
		t.Fatal("stream budget must not be consumed by rest calls")
	}
	if l.TryAcquire(ChannelREST) {
		t.Fatal("rest budget exhausted")
	}
}

func TestAcquireBlocksUntilWindowAges(t *testing.T) {
	l := New(map[Channel]Budget{
		ChannelREST: {Capacity: 1, Window: 100 * time.Millisecond},
	})
	ctx := context.Background()
	if err := l.Acquire(ctx, ChannelREST); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	start := time.Now()
	if err := l.Acquire(ctx, ChannelREST); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second acquire returned after %s, expected a wait", elapsed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New(map[Channel]Budget{
		ChannelREST: {Capacity: 1, Window: time.Hour},
	})
	if err := l.Acquire(context.Background(), ChannelREST); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, ChannelREST); err == nil {
		t.Fatal("expected error when context expires before a slot frees")
	}
}

func TestConcurrentCallers(t *testing.T) {
	l := New(map[Channel]Budget{
		ChannelREST: {Capacity: 50, Window: time.Hour},
	})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.TryAcquire(ChannelREST)
		}()
	}
	wg.Wait()
	admitted, rejected := l.Stats(ChannelREST)
	if admitted != 50 || rejected != 50 {
		t.Fatalf("stats = (%d, %d), want (50, 50)", admitted, rejected)
	}
}
