package panel

import (
	"context"
	"log/slog"
	"time"
)

// discussionRun is the watcher's view of an orchestrator.
type discussionRun interface {
	Phase() Phase
	LastTransition() time.Time
	Stop()
}

// Watcher force-stops discussions stuck in Running or Paused for more
// than twice the maximum duration. The tick never dies: panics are
// recovered and logged.
type Watcher struct {
	target      discussionRun
	interval    time.Duration
	maxDuration time.Duration
}

// NewWatcher applies the defaults (5 min ticks, 60 min max duration)
// when zero values are given.
func NewWatcher(target discussionRun, interval, maxDuration time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxDuration <= 0 {
		maxDuration = 60 * time.Minute
	}
	return &Watcher{target: target, interval: interval, maxDuration: maxDuration}
}

// Run ticks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watcher) tick() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panel watcher: tick panicked", "panic", r)
		}
	}()

	phase := w.target.Phase()
	if !phase.active() {
		return
	}

	stuck := time.Since(w.target.LastTransition())
	if stuck <= 2*w.maxDuration {
		return
	}

	slog.Warn("panel watcher: force-stopping stuck discussion", "phase", phase, "stuck_for", stuck)
	go w.target.Stop()
}
