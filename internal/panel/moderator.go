package panel

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/titanous/json5"

	"github.com/rashmirrout/pilotdesk/internal/copilot"
)

// Decision is the moderator's per-turn verdict. A nil-equivalent
// NextSpeaker means round-robin.
type Decision struct {
	NextSpeaker           string   `json:"next_speaker"`
	ConvergenceScore      int      `json:"convergence_score"`
	StopDiscussion        bool     `json:"stop_discussion"`
	Reason                string   `json:"reason"`
	RedirectMessage       string   `json:"redirect_message"`
	AllowParallelThinking bool     `json:"allow_parallel_thinking"`
	ParallelGroup         []string `json:"parallel_group"`
	ParallelRationale     string   `json:"parallel_rationale"`
}

// fallbackDecision continues the discussion with every panelist.
func fallbackDecision() Decision {
	return Decision{ConvergenceScore: 0}
}

// parseDecision extracts the first JSON object from a model reply.
// Anything unparseable yields the fallback; the score is clamped to
// [0..100].
func parseDecision(raw string) Decision {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fallbackDecision()
	}

	var d Decision
	if err := json5.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		slog.Debug("panel: moderator decision unparseable, using fallback", "error", err)
		return fallbackDecision()
	}
	if d.ConvergenceScore < 0 {
		d.ConvergenceScore = 0
	}
	if d.ConvergenceScore > 100 {
		d.ConvergenceScore = 100
	}
	return d
}

// Verdict is the moderator's ruling on a single panelist message.
type Verdict int

const (
	// VerdictAccept keeps the message.
	VerdictAccept Verdict = iota
	// VerdictBlocked drops the message; the discussion continues.
	VerdictBlocked
	// VerdictForceConverge ends the discussion loop.
	VerdictForceConverge
)

// forceConvergeStreak is the number of consecutive blocked messages that
// escalates to a forced convergence.
const forceConvergeStreak = 3

var defaultProhibited = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)reveal\s+your\s+system\s+prompt`),
	regexp.MustCompile(`(?i)as\s+an\s+ai\s+language\s+model`),
}

// Moderator arbitrates turns over its own session and validates
// panelist output without one.
type Moderator struct {
	agentCore
	prohibited       []*regexp.Regexp
	maxTokensPerTurn int
	blockedStreak    int
}

// NewModerator creates the moderator and its session. maxTokensPerTurn
// zero disables the length check.
func NewModerator(client copilot.Client, sink func(Event), sessionID, model string, maxTokensPerTurn int) (*Moderator, error) {
	m := &Moderator{
		agentCore: agentCore{
			id: 101, name: "Moderator", role: RoleModerator,
			client: client, sessionID: sessionID, sink: sink,
		},
		prohibited:       defaultProhibited,
		maxTokensPerTurn: maxTokensPerTurn,
	}
	opts := copilot.SessionOptions{
		Model:        model,
		SystemPrompt: moderatorSystemPrompt,
	}
	if err := client.CreateSession(sessionID, opts); err != nil {
		return nil, fmt.Errorf("create moderator session: %w", err)
	}
	return m, nil
}

// Decide asks the model for the next-turn verdict. Any failure falls
// open to the fallback decision.
func (m *Moderator) Decide(ctx context.Context, topic string, recent []Message, panelists []string, turn int) Decision {
	m.emitStatus(StatusThinking)
	defer m.emitStatus(StatusIdle)

	reply, err := m.client.SendBlocking(ctx, m.sessionID, moderatorDecisionPrompt(topic, recent, panelists, turn))
	if err != nil {
		slog.Warn("panel: moderator decision failed, using fallback", "error", err)
		return fallbackDecision()
	}
	return parseDecision(reply.Content)
}

// Validate rules on one panelist message. Prohibited content or an
// over-length message is blocked; a streak of blocked messages forces
// convergence. Token count is estimated as len/4.
func (m *Moderator) Validate(content string) Verdict {
	blocked := false
	for _, re := range m.prohibited {
		if re.MatchString(content) {
			blocked = true
			break
		}
	}
	if !blocked && m.maxTokensPerTurn > 0 && len(content)/4 > m.maxTokensPerTurn {
		blocked = true
	}

	if !blocked {
		m.blockedStreak = 0
		return VerdictAccept
	}

	m.blockedStreak++
	if m.blockedStreak >= forceConvergeStreak {
		return VerdictForceConverge
	}
	return VerdictBlocked
}
