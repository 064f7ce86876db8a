package office

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rashmirrout/pilotdesk/internal/pool"
)

// maxReports bounds the retained iteration history. Older reports are
// dropped first.
const maxReports = 100

// IterationReport summarizes one completed iteration. Cancelled tasks are
// counted apart from failures; Scheduling keeps the dispatch commentary.
type IterationReport struct {
	Iteration    int                    `json:"iteration"`
	Dispatched   int                    `json:"dispatched"`
	Succeeded    int                    `json:"succeeded"`
	Failed       int                    `json:"failed"`
	Cancelled    int                    `json:"cancelled"`
	Scheduling   []string               `json:"scheduling,omitempty"`
	Instructions []string               `json:"instructions,omitempty"`
	Results      []pool.AssistantResult `json:"results,omitempty"`
	Summary      string                 `json:"summary"`
	CompletedAt  time.Time              `json:"completed_at"`
}

func buildReport(iteration int, results []pool.AssistantResult, summary string, instructions, scheduling []string) IterationReport {
	r := IterationReport{
		Iteration:    iteration,
		Dispatched:   len(results),
		Scheduling:   scheduling,
		Instructions: instructions,
		Results:      results,
		Summary:      summary,
		CompletedAt:  time.Now().UTC(),
	}
	for _, res := range results {
		switch {
		case res.Success:
			r.Succeeded++
		case res.Status == pool.StatusCancelled || res.ErrorMessage == "Task was cancelled":
			r.Cancelled++
		default:
			r.Failed++
		}
	}
	return r
}

// reportRing keeps the most recent maxReports reports in order.
type reportRing struct {
	mu      sync.Mutex
	reports []IterationReport
}

func (r *reportRing) add(rep IterationReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	if len(r.reports) > maxReports {
		r.reports = r.reports[len(r.reports)-maxReports:]
	}
}

func (r *reportRing) snapshot() []IterationReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]IterationReport, len(r.reports))
	copy(out, r.reports)
	return out
}

func (r *reportRing) last() (IterationReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return IterationReport{}, false
	}
	return r.reports[len(r.reports)-1], true
}

func (r *reportRing) clear() {
	r.mu.Lock()
	r.reports = nil
	r.mu.Unlock()
}

// fallbackAggregation is the summary used when the manager model cannot
// produce one: a plain per-task status list.
func fallbackAggregation(results []pool.AssistantResult) string {
	if len(results) == 0 {
		return "No assistant results this iteration."
	}
	var b strings.Builder
	b.WriteString("Iteration results:\n")
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.ErrorMessage
		}
		fmt.Fprintf(&b, "- task %s (assistant %d): %s\n", r.TaskID, r.AssistantIndex, status)
	}
	return strings.TrimRight(b.String(), "\n")
}
