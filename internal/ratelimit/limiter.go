// Package ratelimit provides per-channel admission control for outbound venue
// traffic. Every REST call and stream message routes through here before it
// leaves the process.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type Channel string

const (
	ChannelREST   Channel = "rest"
	ChannelStream Channel = "stream"
)

type Budget struct {
	Capacity int
	Window   time.Duration
}

// Limiter enforces a rolling request budget per channel. Admitted requests
// replenish as the window ages; blocked callers wait for the next free slot.
type Limiter struct {
	channels map[Channel]*channelState
}

type channelState struct {
	limiter  *rate.Limiter
	admitted atomic.Uint64
	rejected atomic.Uint64
}

func New(budgets map[Channel]Budget) *Limiter {
	channels := make(map[Channel]*channelState, len(budgets))
	for ch, budget := range budgets {
		capacity := budget.Capacity
		if capacity <= 0 {
			capacity = 1
		}
		window := budget.Window
		if window <= 0 {
			window = time.Minute
		}
		perSecond := float64(capacity) / window.Seconds()
		channels[ch] = &channelState{
			limiter: rate.NewLimiter(rate.Limit(perSecond), capacity),
		}
	}
	return &Limiter{channels: channels}
}

// TryAcquire admits one request on the channel if budget remains, without
// blocking. Unknown channels are always admitted.
func (l *Limiter) TryAcquire(ch Channel) bool {
	state, ok := l.channels[ch]
	if !ok {
		return true
	}
	if state.limiter.Allow() {
		state.admitted.Add(1)
		return true
	}
	state.rejected.Add(1)
	return false
}

// Acquire blocks until the channel admits one request or the context ends.
func (l *Limiter) Acquire(ctx context.Context, ch Channel) error {
	state, ok := l.channels[ch]
	if !ok {
		return nil
	}
	if err := state.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait on %s: %w", ch, err)
	}
	state.admitted.Add(1)
	return nil
}

// Stats reports admitted and rejected counts for a channel.
func (l *Limiter) Stats(ch Channel) (admitted, rejected uint64) {
	state, ok := l.channels[ch]
	if !ok {
		return 0, 0
	}
	return state.admitted.Load(), state.rejected.Load()
}
