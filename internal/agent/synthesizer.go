package agent

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/web-research-agent/internal/llm"
	"github.com/MimeLyc/web-research-agent/pkg/log"
)

// Synthesizer turns a run's terminal state into the final report text.
type Synthesizer interface {
	// Finalize formats the planner's own final answer
	Finalize(task Task, text string) string

	// BestEffort writes an answer from partial evidence when the run ended
	// without the planner finalizing
	BestEffort(ctx context.Context, task Task, view []Entry, reason TerminationReason) string
}

// LLMSynthesizer asks the chat backend to compose best-effort reports and
// formats finalized answers locally.
type LLMSynthesizer struct {
	client     *llm.Client
	reportLang language.Tag
}

func NewLLMSynthesizer(client *llm.Client, reportLang language.Tag) *LLMSynthesizer {
	return &LLMSynthesizer{client: client, reportLang: reportLang}
}

func (s *LLMSynthesizer) Finalize(task Task, text string) string {
	return formatReport(task, text)
}

// BestEffort never fails the run: when the backend cannot be reached it
// falls back to a plain digest of the collected observations.
func (s *LLMSynthesizer) BestEffort(ctx context.Context, task Task, view []Entry, reason TerminationReason) string {
	prompt := fmt.Sprintf("Research task: %s\n\nCollected evidence:\n\n%s\nWrite the best answer this evidence supports.%s",
		task.Instruction, renderTranscript(view), LanguageDirective(s.reportLang))

	answer, err := s.client.SimpleChat(ctx, prompt, synthesizerSystemPrompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		log.Warn("best-effort synthesis via backend failed, using observation digest: %v", err)
		answer = observationDigest(view)
	}
	return formatReport(task, bestEffortMarker+"\n\n"+answer)
}

func formatReport(task Task, body string) string {
	title := task.Title
	if title == "" {
		title = firstLine(task.Instruction)
	}
	return fmt.Sprintf("# %s\n\n%s\n", title, strings.TrimSpace(body))
}

// observationDigest is the last-resort report body: the raw observations,
// newest last, with no model in the loop.
func observationDigest(view []Entry) string {
	var b strings.Builder
	b.WriteString("The reasoning backend was unreachable during synthesis. Raw findings:\n")
	n := 0
	for _, e := range view {
		if e.Role != RoleObservation {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n## Finding %d\n\n%s\n", n, strings.TrimSpace(e.Content))
	}
	if n == 0 {
		b.WriteString("\nNo observations were collected.\n")
	}
	return b.String()
}
