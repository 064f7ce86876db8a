package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/titanous/json5"

	"github.com/rashmirrout/pilotdesk/internal/copilot"
)

// briefSummaryLimit caps the fallback brief's summary length.
const briefSummaryLimit = 1000

// generateBrief asks the head model for a knowledge brief in an
// ephemeral session torn down after this one call. Unparseable output
// falls back to a brief built from the synthesis and transcript.
func generateBrief(ctx context.Context, client copilot.Client, model, synthesis string, transcript []Message) KnowledgeBrief {
	fallback := func() KnowledgeBrief { return fallbackBrief(synthesis, transcript) }

	sessionID := "brief-" + uuid.NewString()[:8]
	opts := copilot.SessionOptions{
		Model:        model,
		SystemPrompt: "You condense panel reports into structured JSON briefs.",
	}
	if err := client.CreateSession(sessionID, opts); err != nil {
		slog.Warn("panel: brief session failed, using fallback brief", "error", err)
		return fallback()
	}
	defer func() {
		if err := client.TerminateSession(sessionID); err != nil && !errors.Is(err, copilot.ErrUnknownSession) {
			slog.Warn("panel: terminate brief session failed", "session", sessionID, "error", err)
		}
	}()

	reply, err := client.SendBlocking(ctx, sessionID, briefPrompt(synthesis))
	if err != nil {
		slog.Warn("panel: brief generation failed, using fallback brief", "error", err)
		return fallback()
	}

	brief, ok := parseBrief(reply.Content)
	if !ok {
		return fallback()
	}
	return brief
}

// parseBrief tolerates missing keys and surrounding prose.
func parseBrief(raw string) (KnowledgeBrief, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return KnowledgeBrief{}, false
	}

	var brief KnowledgeBrief
	if err := json5.Unmarshal([]byte(raw[start:end+1]), &brief); err != nil {
		slog.Debug("panel: brief unparseable", "error", err)
		return KnowledgeBrief{}, false
	}
	if brief.KeyArguments == nil {
		brief.KeyArguments = []string{}
	}
	if brief.ConsensusPoints == nil {
		brief.ConsensusPoints = []string{}
	}
	if brief.DissentingViews == nil {
		brief.DissentingViews = []string{}
	}
	if brief.Recommendations == nil {
		brief.Recommendations = []string{}
	}
	return brief, true
}

// fallbackBrief is the truncated synthesis plus the first five panelist
// one-liners.
func fallbackBrief(synthesis string, transcript []Message) KnowledgeBrief {
	summary := synthesis
	if len(summary) > briefSummaryLimit {
		summary = summary[:briefSummaryLimit] + "…"
	}

	var args []string
	for _, m := range transcript {
		if m.Type != TypePanelistArgument {
			continue
		}
		args = append(args, fmt.Sprintf("%s: %s", m.AuthorName, firstLine(m.Content)))
		if len(args) == 5 {
			break
		}
	}
	if args == nil {
		args = []string{}
	}
	return KnowledgeBrief{
		Summary:         summary,
		KeyArguments:    args,
		ConsensusPoints: []string{},
		DissentingViews: []string{},
		Recommendations: []string{},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

// answerFollowup answers a question against the brief in an ephemeral
// head session, without replaying the transcript.
func answerFollowup(ctx context.Context, client copilot.Client, model string, brief KnowledgeBrief, question string) (string, error) {
	sessionID := "followup-" + uuid.NewString()[:8]
	opts := copilot.SessionOptions{
		Model:        model,
		SystemPrompt: "You answer follow-up questions about a finished panel discussion using only its brief.",
	}
	if err := client.CreateSession(sessionID, opts); err != nil {
		return "", fmt.Errorf("create followup session: %w", err)
	}
	defer func() {
		if err := client.TerminateSession(sessionID); err != nil && !errors.Is(err, copilot.ErrUnknownSession) {
			slog.Warn("panel: terminate followup session failed", "session", sessionID, "error", err)
		}
	}()

	reply, err := client.SendBlocking(ctx, sessionID, followupPrompt(brief, question))
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// compressTranscript keeps the most recent 40 panelist messages (each
// truncated to 500 chars) and replaces anything older with a single
// summary block of one-line snippets.
func compressTranscript(transcript []Message) string {
	const keep = 40
	const msgLimit = 500

	var panelist []Message
	for _, m := range transcript {
		if m.Type == TypePanelistArgument {
			panelist = append(panelist, m)
		}
	}

	var b strings.Builder
	if len(panelist) > keep {
		b.WriteString("Earlier discussion (condensed):\n")
		for _, m := range panelist[:len(panelist)-keep] {
			b.WriteString("- " + m.AuthorName + ": " + firstLine(m.Content) + "\n")
		}
		b.WriteString("\n")
		panelist = panelist[len(panelist)-keep:]
	}

	for _, m := range panelist {
		content := m.Content
		if len(content) > msgLimit {
			content = content[:msgLimit] + "…"
		}
		b.WriteString(m.AuthorName + ": " + content + "\n")
	}
	return b.String()
}
