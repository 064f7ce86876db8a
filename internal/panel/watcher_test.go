package panel

import (
	"testing"
	"time"
)

type fakeRun struct {
	phase      Phase
	transition time.Time
	stopped    chan struct{}
	panicky    bool
}

func newFakeRun(phase Phase, transition time.Time) *fakeRun {
	return &fakeRun{phase: phase, transition: transition, stopped: make(chan struct{}, 1)}
}

func (f *fakeRun) Phase() Phase {
	if f.panicky {
		panic("boom")
	}
	return f.phase
}

func (f *fakeRun) LastTransition() time.Time { return f.transition }

func (f *fakeRun) Stop() {
	select {
	case f.stopped <- struct{}{}:
	default:
	}
}

func (f *fakeRun) wasStopped(t *testing.T) bool {
	t.Helper()
	select {
	case <-f.stopped:
		return true
	case <-time.After(500 * time.Millisecond):
		return false
	}
}

func TestWatcherStopsStuckDiscussion(t *testing.T) {
	run := newFakeRun(PhaseRunning, time.Now().Add(-time.Hour))
	w := NewWatcher(run, time.Minute, 10*time.Millisecond)

	w.tick()
	if !run.wasStopped(t) {
		t.Error("stuck running discussion was not stopped")
	}
}

func TestWatcherStopsStuckPausedDiscussion(t *testing.T) {
	run := newFakeRun(PhasePaused, time.Now().Add(-time.Hour))
	w := NewWatcher(run, time.Minute, 10*time.Millisecond)

	w.tick()
	if !run.wasStopped(t) {
		t.Error("stuck paused discussion was not stopped")
	}
}

func TestWatcherIgnoresRecentTransition(t *testing.T) {
	run := newFakeRun(PhaseRunning, time.Now())
	w := NewWatcher(run, time.Minute, time.Hour)

	w.tick()
	select {
	case <-run.stopped:
		t.Error("recently active discussion was stopped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcherIgnoresInactivePhases(t *testing.T) {
	for _, phase := range []Phase{PhaseIdle, PhaseClarifying, PhaseAwaitingApproval, PhaseCompleted, PhaseStopped, PhaseFailed} {
		run := newFakeRun(phase, time.Now().Add(-24*time.Hour))
		w := NewWatcher(run, time.Minute, 10*time.Millisecond)

		w.tick()
		select {
		case <-run.stopped:
			t.Errorf("phase %v: inactive discussion was stopped", phase)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcherRecoversFromPanic(t *testing.T) {
	run := newFakeRun(PhaseRunning, time.Now())
	run.panicky = true
	w := NewWatcher(run, time.Minute, time.Hour)

	// Must not propagate.
	w.tick()
}

func TestNewWatcherDefaults(t *testing.T) {
	w := NewWatcher(nil, 0, 0)
	if w.interval != 5*time.Minute {
		t.Errorf("interval = %v, want 5m", w.interval)
	}
	if w.maxDuration != 60*time.Minute {
		t.Errorf("maxDuration = %v, want 60m", w.maxDuration)
	}
}
