package agent

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

const plannerSystemPrompt = `You are a web research agent. You answer research tasks by
iterating: decide on ONE action, observe its result, then decide again.

Rules:
- Use the provided tools to gather evidence. Prefer web_search to discover
  sources, then fetch_page to read the most promising ones.
- Issue exactly one tool call per turn, or no tool call when you are done.
- When the gathered evidence is sufficient, respond WITHOUT a tool call and
  write the final answer directly. Cite source URLs inline.
- If a tool call fails or is rejected, read the error, fix the arguments or
  choose a different tool, and continue.
- Do not repeat a search you have already run with the same query.`

const synthesizerSystemPrompt = `You write research reports. Given a research task and the
partial evidence an agent collected before running out of budget, write the
best answer the evidence supports. Be explicit about what remains unverified.
Cite source URLs inline.`

// bestEffortMarker prefixes reports produced from incomplete runs so readers
// can tell them apart from finalized answers.
const bestEffortMarker = "> Note: the research budget was exhausted before the investigation finished. This is a best-effort answer from partial evidence."

// LanguageDirective asks for report output in the configured language.
// English gets no directive since the prompts are already English.
func LanguageDirective(tag language.Tag) string {
	if tag == language.Und || tag == language.English {
		return ""
	}
	name := langName(tag)
	return fmt.Sprintf("\n\nWrite the final answer in %s.", name)
}

func langName(tag language.Tag) string {
	base, _ := tag.Base()
	switch base.String() {
	case "zh":
		return "Chinese"
	case "ja":
		return "Japanese"
	case "ko":
		return "Korean"
	case "de":
		return "German"
	case "fr":
		return "French"
	case "es":
		return "Spanish"
	case "pt":
		return "Portuguese"
	case "ru":
		return "Russian"
	default:
		return base.String()
	}
}

// renderTranscript flattens a context view into plain text for the
// synthesizer prompt.
func renderTranscript(view []Entry) string {
	var b strings.Builder
	for _, e := range view {
		switch e.Role {
		case RoleSystem:
			continue
		case RoleTask:
			fmt.Fprintf(&b, "Task: %s\n\n", e.Content)
		case RoleAction:
			fmt.Fprintf(&b, "Action: %s\n", e.Content)
		case RoleObservation:
			fmt.Fprintf(&b, "Observation:\n%s\n\n", e.Content)
		case RoleSummary, RoleNote:
			fmt.Fprintf(&b, "%s\n\n", e.Content)
		}
	}
	return b.String()
}
