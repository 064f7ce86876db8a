// Package schedule provides the office rest countdown and cron-based
// instruction injection.
package schedule

import (
	"context"
	"sync"
	"time"
)

// WaitResult reports how a countdown ended.
type WaitResult int

const (
	// WaitCompleted means the countdown ran to zero naturally.
	WaitCompleted WaitResult = iota
	// WaitCancelled means CancelRest or external cancellation cut it short.
	WaitCancelled
	// WaitOverridden means OverrideRest cut it short; the caller should
	// read PendingOverride and wait again with the new duration.
	WaitOverridden
)

// TickFunc observes countdown progress once per second.
type TickFunc func(secondsRemaining, totalSeconds int)

// Countdown is a tickable rest timer with early cancel and duration
// override. A single wait is active at a time.
type Countdown struct {
	mu       sync.Mutex
	onTick   TickFunc
	active   chan waitSignal // non-nil while a wait is running
	override int             // pending override minutes, 0 = none
}

type waitSignal struct {
	overridden bool
}

// NewCountdown creates a countdown. onTick may be nil.
func NewCountdown(onTick TickFunc) *Countdown {
	return &Countdown{onTick: onTick}
}

// Wait blocks for the given number of minutes (clamped to at least one
// second), emitting a tick every second. A final tick with
// secondsRemaining=0 is emitted on every exit path — natural completion,
// CancelRest, OverrideRest, and external cancellation alike.
func (c *Countdown) Wait(ctx context.Context, minutes int) WaitResult {
	total := minutes * 60
	if total < 1 {
		total = 1
	}

	signal := make(chan waitSignal, 1)
	c.mu.Lock()
	c.active = signal
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.active == signal {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := total
	c.tick(remaining, total)

	for remaining > 0 {
		select {
		case <-ticker.C:
			remaining--
			c.tick(remaining, total)
		case sig := <-signal:
			c.tick(0, total)
			if sig.overridden {
				return WaitOverridden
			}
			return WaitCancelled
		case <-ctx.Done():
			c.tick(0, total)
			return WaitCancelled
		}
	}
	return WaitCompleted
}

// CancelRest ends the active wait early. No-op when nothing is waiting.
func (c *Countdown) CancelRest() {
	c.signal(waitSignal{})
}

// OverrideRest ends the active wait and records the new duration for the
// owner to pick up via PendingOverride before re-invoking Wait.
func (c *Countdown) OverrideRest(minutes int) {
	c.mu.Lock()
	c.override = minutes
	c.mu.Unlock()
	c.signal(waitSignal{overridden: true})
}

// PendingOverride returns and clears the override duration, if any.
func (c *Countdown) PendingOverride() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override == 0 {
		return 0, false
	}
	m := c.override
	c.override = 0
	return m, true
}

func (c *Countdown) signal(sig waitSignal) {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active != nil {
		select {
		case active <- sig:
		default:
		}
	}
}

func (c *Countdown) tick(remaining, total int) {
	if c.onTick != nil {
		c.onTick(remaining, total)
	}
}
