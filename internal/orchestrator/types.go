// Package orchestrator decides what work a query needs, runs exactly that
// work through the tool services and folds the outcome into the turn log.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Intent is the resolved purpose of a query.
type Intent string

const (
	IntentSearch            Intent = "search"
	IntentSummarize         Intent = "summarize"
	IntentConversationQuery Intent = "conversation_query"
)

// intentPriority is also the match order used when reading oracle output.
var intentPriority = []Intent{IntentSearch, IntentSummarize, IntentConversationQuery}

// ParseIntent accepts the canonical intent names, case-insensitively.
func ParseIntent(s string) (Intent, error) {
	v := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, i := range intentPriority {
		if v == i {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// Stage is a unit of work the planner may request.
type Stage string

const (
	StageSearch    Stage = "search"
	StageSummarize Stage = "summarize"
)

// Names reported for stages that actually ran.
const (
	ExecutedSearch            = "search"
	ExecutedSummary           = "summary"
	ExecutedConversationQuery = "conversation_query"
)

func validStage(s string) bool {
	return s == string(StageSearch) || s == string(StageSummarize)
}

// FallbackApplied records that oracle output was unusable and a
// deterministic default was used instead. It is logged and counted, never
// returned as an error.
type FallbackApplied struct {
	Step   string // "intent" or "plan"
	Reason string
	Err    error
}

func (f FallbackApplied) String() string {
	if f.Err != nil {
		return fmt.Sprintf("%s fallback: %s: %v", f.Step, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s fallback: %s", f.Step, f.Reason)
}

// ErrNoPriorContent matches any *NoPriorContentError via errors.Is.
var ErrNoPriorContent = errors.New("nothing to summarize yet")

// NoPriorContentError is returned when condensation is requested but no
// turn carries retrieval or summary output.
type NoPriorContentError struct {
	Turn int
}

func (e *NoPriorContentError) Error() string {
	return "cannot summarize: no previous agent responses available, run a search first"
}

func (e *NoPriorContentError) Is(target error) bool { return target == ErrNoPriorContent }

// SummarizedMessage describes one turn fed into a condensation call.
type SummarizedMessage struct {
	Query   string `json:"query"`
	Content string `json:"summary"`
	Turn    int    `json:"turn"`
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
