package agent

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/web-research-agent/pkg/log"
)

// Entry roles inside the working context.
const (
	RoleSystem      = "system"
	RoleTask        = "task"
	RoleAction      = "action"
	RoleObservation = "observation"
	RoleNote        = "note"
	RoleSummary     = "summary"
)

// Entry is one unit of the planner's working context. Entries that belong to
// the same step share a StepSeq and are evicted together.
type Entry struct {
	Role    string
	Content string
	Pinned  bool
	StepSeq int
}

// TokenCounter estimates how many model tokens a string costs. The default
// estimator divides the character count by four, which is close enough for
// budget enforcement; an exact BPE-backed counter can be plugged in instead.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter approximates token usage from character counts.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// ContextManager holds the planner's working context under a token budget.
// Pinned entries (the system instructions and the task statement) are never
// evicted. When the budget is exceeded it evicts the oldest unpinned step
// units first, keeping at least the most recent keepRecent steps, and leaves
// a compact summary entry in place of what was dropped.
type ContextManager struct {
	budget     int
	keepRecent int
	counter    TokenCounter
	pinned     []Entry
	entries    []Entry
	summary    *Entry
	evicted    int
}

// NewContextManager builds a context manager. A zero or negative budget
// disables eviction. keepRecent is clamped to at least 1.
func NewContextManager(budget, keepRecent int, counter TokenCounter) *ContextManager {
	if counter == nil {
		counter = EstimateCounter{}
	}
	if keepRecent < 1 {
		keepRecent = 1
	}
	return &ContextManager{
		budget:     budget,
		keepRecent: keepRecent,
		counter:    counter,
	}
}

// Pin adds an entry that survives every eviction.
func (m *ContextManager) Pin(role, content string) {
	m.pinned = append(m.pinned, Entry{Role: role, Content: content, Pinned: true})
}

// Append adds a step-scoped entry and evicts old steps if the budget is
// exceeded.
func (m *ContextManager) Append(entry Entry) {
	m.entries = append(m.entries, entry)
	m.evict()
}

// View returns the current context snapshot in order: pinned entries, the
// eviction summary if any, then the surviving step entries. The returned
// slice is a copy.
func (m *ContextManager) View() []Entry {
	view := make([]Entry, 0, len(m.pinned)+len(m.entries)+1)
	view = append(view, m.pinned...)
	if m.summary != nil {
		view = append(view, *m.summary)
	}
	view = append(view, m.entries...)
	return view
}

// TokenCount reports the estimated token cost of the current view.
func (m *ContextManager) TokenCount() int {
	total := 0
	for _, e := range m.View() {
		total += m.counter.Count(e.Content)
	}
	return total
}

// EvictedSteps reports how many step units have been dropped so far.
func (m *ContextManager) EvictedSteps() int {
	return m.evicted
}

func (m *ContextManager) evict() {
	if m.budget <= 0 {
		return
	}
	for m.TokenCount() > m.budget {
		seq, ok := m.oldestEvictable()
		if !ok {
			return
		}
		m.evictStep(seq)
	}
}

// oldestEvictable finds the lowest step sequence that is old enough to drop.
// The most recent keepRecent step units are always preserved, so the budget
// is a soft limit when only recent steps remain.
func (m *ContextManager) oldestEvictable() (int, bool) {
	seqs := m.stepSeqs()
	if len(seqs) <= m.keepRecent {
		return 0, false
	}
	return seqs[0], true
}

func (m *ContextManager) stepSeqs() []int {
	var seqs []int
	seen := make(map[int]bool)
	for _, e := range m.entries {
		if !seen[e.StepSeq] {
			seen[e.StepSeq] = true
			seqs = append(seqs, e.StepSeq)
		}
	}
	return seqs
}

// evictStep removes every entry of one step unit and folds its action line
// into the running summary entry.
func (m *ContextManager) evictStep(seq int) {
	var kept []Entry
	var dropped []Entry
	for _, e := range m.entries {
		if e.StepSeq == seq {
			dropped = append(dropped, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(dropped) == 0 {
		return
	}
	m.entries = kept
	m.evicted++
	m.foldSummary(dropped)
	log.Debug("context eviction: dropped step %d (%d entries), %d tokens remain",
		seq, len(dropped), m.TokenCount())
}

func (m *ContextManager) foldSummary(dropped []Entry) {
	var actions []string
	for _, e := range dropped {
		if e.Role == RoleAction {
			actions = append(actions, firstLine(e.Content))
		}
	}
	line := strings.Join(actions, "; ")
	if m.summary == nil {
		m.summary = &Entry{
			Role:    RoleSummary,
			Content: fmt.Sprintf("Earlier steps evicted to stay within the context budget. Actions taken so far: %s", line),
		}
		return
	}
	m.summary.Content = fmt.Sprintf("%s; %s", m.summary.Content, line)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 160
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
