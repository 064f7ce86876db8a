package panel

import (
	"strings"
	"testing"
)

func argument(author, content string) Message {
	return Message{AuthorName: author, Content: content, Type: TypePanelistArgument}
}

func TestEvaluateCadence(t *testing.T) {
	d := NewConvergenceDetector(80, 20)
	transcript := []Message{argument("A", "i agree with everything")}

	tests := []struct {
		turn          int
		wantEvaluated bool
	}{
		{1, false},
		{2, false},
		{3, false}, // before turn 4
		{4, false}, // not a multiple of 3
		{5, false},
		{6, true},
		{7, false},
		{9, true},
		{12, true},
	}
	for _, tt := range tests {
		if _, _, evaluated := d.Evaluate(tt.turn, transcript, []string{"A"}); evaluated != tt.wantEvaluated {
			t.Errorf("turn %d: evaluated = %v, want %v", tt.turn, evaluated, tt.wantEvaluated)
		}
	}
}

func TestEvaluateForcedPastMaxTurns(t *testing.T) {
	d := NewConvergenceDetector(80, 20)
	score, converged, evaluated := d.Evaluate(21, nil, nil)
	if score != 100 || !converged || !evaluated {
		t.Errorf("Evaluate(21) = (%d, %v, %v), want (100, true, true)", score, converged, evaluated)
	}
}

func TestEvaluateConvergedDiscussion(t *testing.T) {
	// Six recent messages: five carry agreement signals, the second half
	// is much shorter than the first, and every panelist spoke.
	long := strings.Repeat("we should weigh the operational cost of each option carefully. ", 5)
	short := "i agree, ship it."

	transcript := []Message{
		argument("Priya", long+" building on the earlier point about cost."),
		argument("Soren", long+" i agree that the risk is bounded."),
		argument("Vera", long),
		argument("Arman", short+" echoing Priya."),
		argument("Priya", short),
		argument("Soren", short),
	}
	panelists := []string{"Priya", "Soren", "Vera", "Arman"}

	d := NewConvergenceDetector(80, 20)
	score, converged, evaluated := d.Evaluate(6, transcript, panelists)
	if !evaluated {
		t.Fatal("turn 6 must be evaluated")
	}
	// 5/6 signals round up to 34, the sharp shortening adds 30, turn
	// progress adds 6, full participation adds 10.
	if score != 80 {
		t.Errorf("score = %d, want 80", score)
	}
	if !converged {
		t.Error("score at the threshold must converge")
	}
}

func TestEvaluateDivergentDiscussion(t *testing.T) {
	long := strings.Repeat("here is a fresh angle nobody has considered yet. ", 6)
	transcript := []Message{
		argument("Priya", long),
		argument("Soren", long),
		argument("Vera", long),
		argument("Arman", long),
		argument("Priya", long),
		argument("Soren", long),
	}

	d := NewConvergenceDetector(80, 20)
	score, converged, _ := d.Evaluate(6, transcript, []string{"Priya", "Soren", "Vera", "Arman", "Uche"})
	if converged {
		t.Errorf("divergent discussion converged with score %d", score)
	}
	if score >= 40 {
		t.Errorf("score = %d, want well below the threshold", score)
	}
}

func TestAgreementScoreRoundsUp(t *testing.T) {
	window := []Message{
		argument("A", "i agree completely"),
		argument("B", "something else"),
		argument("C", "another thing"),
	}
	// 1 of 3 hits: ceil(40/3) = 14.
	if got := agreementScore(window); got != 14 {
		t.Errorf("agreementScore = %d, want 14", got)
	}
}

func TestShorteningScoreStacks(t *testing.T) {
	long := strings.Repeat("x", 100)
	tests := []struct {
		name   string
		second string
		want   int
	}{
		{"no shortening", strings.Repeat("x", 100), 0},
		{"mild shortening", strings.Repeat("x", 80), 10},
		{"sharp shortening", strings.Repeat("x", 50), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := []Message{
				argument("A", long), argument("B", long),
				argument("C", tt.second), argument("D", tt.second),
			}
			if got := shorteningScore(window); got != tt.want {
				t.Errorf("shorteningScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAllPresent(t *testing.T) {
	window := []Message{argument("A", "x"), argument("B", "y")}

	if !allPresent(window, []string{"A", "B"}) {
		t.Error("all speakers present but reported absent")
	}
	if allPresent(window, []string{"A", "B", "C"}) {
		t.Error("missing speaker reported present")
	}
	if allPresent(window, nil) {
		t.Error("empty panelist list must not score participation")
	}
}

func TestLastPanelistMessagesChronological(t *testing.T) {
	transcript := []Message{
		{AuthorName: "User", Content: "start", Type: TypeUserMessage},
		argument("A", "first"),
		argument("B", "second"),
		{AuthorName: "Head", Content: "note", Type: TypeClarification},
		argument("C", "third"),
	}

	got := lastPanelistMessages(transcript, 2)
	if len(got) != 2 || got[0].Content != "second" || got[1].Content != "third" {
		t.Errorf("lastPanelistMessages = %v, want [second third] in order", got)
	}
}
