package office

import (
	"context"
	"sync"
)

// pauseGate is a re-armable one-shot. Arming blocks waiters until the
// next release; after release the gate is open again and can be re-armed.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{} // nil while open
}

func (g *pauseGate) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
}

func (g *pauseGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
}

func (g *pauseGate) armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

// wait blocks while the gate is armed. Returns the context error on
// cancellation.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clarifyGate carries one pending clarification question and its answer.
type clarifyGate struct {
	question string
	reply    chan string
}

func newClarifyGate(question string) *clarifyGate {
	return &clarifyGate{question: question, reply: make(chan string, 1)}
}

// deliver hands the user's answer to the awaiter. Only the first answer
// counts.
func (g *clarifyGate) deliver(answer string) {
	select {
	case g.reply <- answer:
	default:
	}
}
