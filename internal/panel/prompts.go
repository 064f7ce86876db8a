package panel

import (
	"fmt"
	"strings"
)

const headSystemPrompt = "You lead a panel discussion. First you clarify what the user wants to discuss, " +
	"then you distill it into a topic, and after the panel finishes you synthesize the outcome. " +
	"During clarification, either ask the user questions or, once the request is clear, reply starting with CLEAR:. " +
	"You may include a line DISCUSSION_DEPTH: Quick|Standard|Deep in your first reply to size the discussion."

const moderatorSystemPrompt = "You moderate a panel discussion. Each turn you decide who speaks next, whether the " +
	"panel has converged, and whether to redirect the conversation. Reply with a single JSON object only."

const composeTopicPrompt = "The request is clear. Compose a concise Topic of Discussion from the exchange so far: " +
	"one paragraph stating the question the panel must settle and the constraints that matter."

func clarifyOpeningPrompt(userPrompt string) string {
	return "The user wants a panel discussion about:\n" + userPrompt + "\n" +
		"If you need more detail, ask. Once clear, reply starting with CLEAR: and a one-line restatement."
}

func panelistSystemPrompt(p Profile) string {
	return fmt.Sprintf("You are %s, %s. You argue your perspective in a panel discussion: "+
		"concise, concrete, and responsive to what the others said.", p.Name, p.Persona)
}

func panelistTurnPrompt(topic string, recent []Message, redirect string) string {
	var b strings.Builder
	b.WriteString("Topic: " + topic + "\n")
	if len(recent) > 0 {
		b.WriteString("Recent discussion:\n")
		b.WriteString(renderTranscript(recent))
	}
	if redirect != "" {
		b.WriteString("Moderator direction: " + redirect + "\n")
	}
	b.WriteString("Give your next argument.")
	return b.String()
}

func moderatorDecisionPrompt(topic string, recent []Message, panelists []string, turn int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d of the discussion on: %s\n", turn, topic)
	b.WriteString("Panelists: " + strings.Join(panelists, ", ") + "\n")
	if len(recent) > 0 {
		b.WriteString("Recent discussion:\n")
		b.WriteString(renderTranscript(recent))
	}
	b.WriteString(`Reply with one JSON object: {"next_speaker": name or "", "convergence_score": 0-100, ` +
		`"stop_discussion": bool, "reason": str, "redirect_message": str, ` +
		`"allow_parallel_thinking": bool, "parallel_group": [names], "parallel_rationale": str}`)
	return b.String()
}

func synthesisPrompt(topic, compressed string) string {
	return "The panel discussion on the following topic has ended.\n" +
		"Topic: " + topic + "\n" +
		"Transcript:\n" + compressed + "\n" +
		"Write the final structured Markdown report: the answer, the main arguments, where the panel agreed, " +
		"where it did not, and concrete recommendations."
}

func briefPrompt(synthesis string) string {
	return "Condense this panel report into a JSON object " +
		`{"summary": str, "key_arguments": [str], "consensus_points": [str], "dissenting_views": [str], "recommendations": [str]}` +
		". Reply with JSON only.\n" + synthesis
}

func followupPrompt(brief KnowledgeBrief, question string) string {
	var b strings.Builder
	b.WriteString("A panel discussion concluded with this brief:\n")
	b.WriteString("Summary: " + brief.Summary + "\n")
	writeList(&b, "Key arguments", brief.KeyArguments)
	writeList(&b, "Consensus", brief.ConsensusPoints)
	writeList(&b, "Dissent", brief.DissentingViews)
	writeList(&b, "Recommendations", brief.Recommendations)
	b.WriteString("Answer the user's follow-up question using only this brief:\n" + question)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}

// renderTranscript formats messages as "Name: content" lines.
func renderTranscript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.AuthorName + ": " + m.Content + "\n")
	}
	return b.String()
}
