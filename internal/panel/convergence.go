package panel

import "strings"

// convergenceWindow is the number of recent panelist messages the
// heuristic inspects.
const convergenceWindow = 6

var agreementSignals = []string{
	"i agree",
	"building on",
	"as mentioned",
	"echoing",
	"consistent with",
	"aligning with",
	"in line with",
	"similar to what",
	"reinforcing",
	"corroborating",
}

// ConvergenceDetector scores how settled a discussion is. It only
// evaluates every third turn from turn 4 on; past maxTurns convergence
// is forced.
type ConvergenceDetector struct {
	Threshold int // default 80
	MaxTurns  int
}

// NewConvergenceDetector applies the default threshold when zero.
func NewConvergenceDetector(threshold, maxTurns int) *ConvergenceDetector {
	if threshold <= 0 {
		threshold = 80
	}
	return &ConvergenceDetector{Threshold: threshold, MaxTurns: maxTurns}
}

// Evaluate returns (score, converged, evaluated). evaluated=false means
// the turn was outside the detector's cadence and the score is
// meaningless.
func (d *ConvergenceDetector) Evaluate(turn int, transcript []Message, panelists []string) (int, bool, bool) {
	if d.MaxTurns > 0 && turn > d.MaxTurns {
		return 100, true, true
	}
	if turn < 4 || turn%3 != 0 {
		return 0, false, false
	}

	window := lastPanelistMessages(transcript, convergenceWindow)
	if len(window) == 0 {
		return 0, false, true
	}

	score := agreementScore(window)
	score += shorteningScore(window)
	if d.MaxTurns > 0 {
		pts := 20 * turn / d.MaxTurns
		if pts > 20 {
			pts = 20
		}
		score += pts
	}
	if allPresent(window, panelists) {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score, score >= d.Threshold, true
}

// agreementScore awards up to 40 points for the fraction of window
// messages containing an agreement signal, rounded up.
func agreementScore(window []Message) int {
	hits := 0
	for _, m := range window {
		lower := strings.ToLower(m.Content)
		for _, sig := range agreementSignals {
			if strings.Contains(lower, sig) {
				hits++
				break
			}
		}
	}
	return (40*hits + len(window) - 1) / len(window)
}

// shorteningScore awards 10 points when the second half of the window
// averages under 0.85x the first half's length, and 20 more under 0.7x.
func shorteningScore(window []Message) int {
	if len(window) < 2 {
		return 0
	}
	half := len(window) / 2
	firstAvg := avgLen(window[:half])
	secondAvg := avgLen(window[half:])
	if firstAvg == 0 {
		return 0
	}

	score := 0
	ratio := secondAvg / firstAvg
	if ratio < 0.85 {
		score += 10
	}
	if ratio < 0.7 {
		score += 20
	}
	return score
}

func avgLen(msgs []Message) float64 {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return float64(total) / float64(len(msgs))
}

func allPresent(window []Message, panelists []string) bool {
	seen := make(map[string]bool, len(window))
	for _, m := range window {
		seen[m.AuthorName] = true
	}
	for _, name := range panelists {
		if !seen[name] {
			return false
		}
	}
	return len(panelists) > 0
}

func lastPanelistMessages(transcript []Message, n int) []Message {
	var out []Message
	for i := len(transcript) - 1; i >= 0 && len(out) < n; i-- {
		if transcript[i].Type == TypePanelistArgument {
			out = append(out, transcript[i])
		}
	}
	// Restore chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
