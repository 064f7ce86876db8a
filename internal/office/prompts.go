package office

import (
	"fmt"
	"strings"

	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/pool"
)

func managerSystemPrompt(cfg config.OfficeConfig) string {
	var b strings.Builder
	b.WriteString("You are the manager of a team of ephemeral assistants working toward a long-running objective.\n")
	b.WriteString("Objective: " + cfg.Objective + "\n")
	if cfg.WorkspacePath != "" {
		b.WriteString("Workspace: " + cfg.WorkspacePath + "\n")
	}
	b.WriteString("You plan, delegate concrete tasks, and summarize results. You never execute tasks yourself.")
	return b.String()
}

func planPrompt(cfg config.OfficeConfig, feedback string) string {
	var b strings.Builder
	b.WriteString("Produce a short working plan for the objective. List the major workstreams and the order you will tackle them.\n")
	b.WriteString("If the objective is too ambiguous to plan, reply with the single line prefix " + clarificationMarker + " followed by one question.\n")
	if feedback != "" {
		b.WriteString("The previous plan was rejected with this feedback, revise accordingly:\n" + feedback + "\n")
	}
	return b.String()
}

func clarificationFollowup(answer string) string {
	return "Clarification answer: " + answer + "\nNow produce the plan."
}

func iterationPrompt(cfg config.OfficeConfig, plan, lastSummary string, instructions []string, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d. Decide what the assistants should do next.\n", iteration)
	b.WriteString("Plan:\n" + plan + "\n")
	if lastSummary != "" {
		b.WriteString("Previous iteration summary:\n" + lastSummary + "\n")
	}
	if len(instructions) > 0 {
		b.WriteString("User instructions to honor this iteration:\n")
		for _, in := range instructions {
			b.WriteString("- " + in + "\n")
		}
	}
	fmt.Fprintf(&b, "Reply with a JSON array of at most %d tasks, each {\"title\": ..., \"prompt\": ..., \"priority\": n} where lower priority runs first. Reply with [] if nothing needs doing right now.\n", cfg.MaxAssistants*2)
	return b.String()
}

func aggregationPrompt(results []pool.AssistantResult, instructions []string) string {
	var b strings.Builder
	b.WriteString("The assistants finished. Summarize the iteration in a few sentences for the user: what was accomplished, what failed, what comes next.\n")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&b, "Result (task %s):\n%s\n", r.TaskID, r.Content)
		} else {
			fmt.Fprintf(&b, "Result (task %s): FAILED: %s\n", r.TaskID, r.ErrorMessage)
		}
	}
	if len(instructions) > 0 {
		b.WriteString("User instructions that applied this iteration:\n")
		for _, in := range instructions {
			b.WriteString("- " + in + "\n")
		}
	}
	return b.String()
}
