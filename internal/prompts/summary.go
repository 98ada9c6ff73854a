package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/think-ai-agent/internal/memory"
)

// SummaryRecentEntries is how many trailing thread entries the
// summarizer shows the model.
const SummaryRecentEntries = 4

// summaryTemplate asks a model to fold the latest turns into the
// structured session summary. Format verbs: current summary JSON, recent
// transcript.
const summaryTemplate = `You are a session analyst. Your task is to update a JSON summary of the user's session based on the latest conversation turns.
The user's goal is to get actionable, structured advice.
The current summary is:
%s

The latest messages are:
%s

Update the JSON object with the following fields if new information is available:
- user_goal: A concise, 1-5 word description of the user's primary objective. (e.g., "Export Business Feasibility")
- current_stage: The user's current progress. (e.g., "Exploration", "Planning", "Execution")
- constraints: Key limitations mentioned by the user. (e.g., "Low capital", "No prior experience")
- decisions_made: Important choices the user has settled on.
- open_questions: What the user is currently trying to figure out.

RULES:
- ONLY output the updated JSON object, nothing else.
- Preserve existing fields if no new information is available.`

// SummaryPrompt returns the summarization prompt for the current
// summary (nil when none exists) and the pre-turn thread. Only the last
// SummaryRecentEntries entries are included.
func SummaryPrompt(current memory.Summary, thread []memory.Message) string {
	currentJSON := "{}"
	if current != nil {
		if data, err := json.MarshalIndent(current, "", "  "); err == nil {
			currentJSON = string(data)
		}
	}

	if len(thread) > SummaryRecentEntries {
		thread = thread[len(thread)-SummaryRecentEntries:]
	}
	lines := make([]string, len(thread))
	for i, m := range thread {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
	}

	return fmt.Sprintf(summaryTemplate, currentJSON, strings.Join(lines, "\n"))
}
