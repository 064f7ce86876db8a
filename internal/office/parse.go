package office

import (
	"fmt"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

// clarificationMarker prefixes a planning response that asks the user a
// question instead of producing a plan.
const clarificationMarker = "[CLARIFICATION_NEEDED]"

// parseClarification reports whether the response is a clarification
// request, returning the question text.
func parseClarification(resp string) (string, bool) {
	trimmed := strings.TrimSpace(resp)
	if !strings.HasPrefix(trimmed, clarificationMarker) {
		return "", false
	}
	q := strings.TrimSpace(strings.TrimPrefix(trimmed, clarificationMarker))
	if q == "" {
		q = "The manager needs more detail about the objective."
	}
	return q, true
}

// taskSpec is one planned assistant task as emitted by the model.
type taskSpec struct {
	Title    string `json:"title"`
	Prompt   string `json:"prompt"`
	Priority int    `json:"priority"`
}

// parseTasks extracts a JSON array of task specs from a model response.
// Fences and surrounding prose are tolerated; entries missing a title or
// prompt are dropped. The result is sorted by priority, stable on ties.
// An empty array is a valid zero-task answer, not an error.
func parseTasks(raw string) ([]taskSpec, error) {
	body := stripFences(raw)

	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("office: no task array in response")
	}

	var specs []taskSpec
	if err := json5.Unmarshal([]byte(body[start:end+1]), &specs); err != nil {
		return nil, fmt.Errorf("office: parse task array: %w", err)
	}

	kept := specs[:0]
	for _, s := range specs {
		if strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.Prompt) == "" {
			continue
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Priority < kept[j].Priority })
	return kept, nil
}

// fallbackTasks is used when the planning response cannot be parsed at
// all. Two generic tasks keep the iteration productive.
func fallbackTasks(objective string) []taskSpec {
	return []taskSpec{
		{
			Title:    "Assess current progress",
			Prompt:   "Review the current state of the objective and report what has been done and what remains: " + objective,
			Priority: 1,
		},
		{
			Title:    "Advance the objective",
			Prompt:   "Take the next concrete step toward the objective and report the outcome: " + objective,
			Priority: 2,
		},
	}
}

// stripFences removes markdown code fences, keeping their contents.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
