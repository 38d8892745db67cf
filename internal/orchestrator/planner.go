package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/turnkeeper/internal/llm"
	"github.com/rs/zerolog"
)

// Planner asks the completion service which stages a request needs. Its
// output is advisory; executors skip stages whose output already exists.
type Planner struct {
	llm    llm.Completer
	logger zerolog.Logger
}

func NewPlanner(c llm.Completer, logger zerolog.Logger) *Planner {
	return &Planner{llm: c, logger: logger.With().Str("component", "planner").Logger()}
}

const planSystem = `You are a planning agent. Always respond with a valid JSON array of stage names. ` +
	`Example: ["search"] or ["search", "summarize"]. Do not execute more stages than necessary.`

func planPrompt(req PlanRequest) string {
	var completed []string
	if req.Current.HasRetrieval() {
		completed = append(completed, ExecutedSearch)
	}
	if req.Current.HasSummary() {
		completed = append(completed, ExecutedSummary)
	}
	stateInfo := ""
	if len(completed) > 0 {
		stateInfo = fmt.Sprintf("\n\nAlready completed stages: %s\nAvailable context: search_results=%s, summary=%s",
			strings.Join(completed, ", "), yesNo(req.Current.HasRetrieval()), yesNo(req.Current.HasSummary()))
	}

	return fmt.Sprintf(`You are a planning agent. Based on the user's query and intent, determine EXACTLY which stages should be executed.%s

User Query: %q
Detected Intent: %s
%s

Available stages:
- "search": search for NEW information
- "summarize": summarize the last 3 agent responses from conversation history

RULES:
1. If intent is "search" and the user asks for NEW information, execute ["search"]
2. If intent is "summarize", execute ONLY ["summarize"]
3. Execute only the minimum stages needed and reuse existing context whenever possible

Respond with ONLY a JSON array of stage names, e.g. ["search"] or ["search", "summarize"]
`, historyBlock(req.History), req.Query, req.Intent, stateInfo)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Plan never fails; unusable output yields the default plan for the intent.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) PlanDecision {
	text, err := p.llm.Complete(ctx, llm.Prompt{
		System:      planSystem,
		User:        planPrompt(req),
		Temperature: 0.2,
	})
	if err != nil {
		return p.fallback(req.Intent, "completion failed", err)
	}
	stages, err := ParseStages(text)
	if err != nil {
		return p.fallback(req.Intent, "unparsable plan", err)
	}
	if len(stages) == 0 {
		return p.fallback(req.Intent, "no valid stages", nil)
	}
	p.logger.Debug().Interface("stages", stages).Msg("plan")
	return PlanDecision{Stages: stages}
}

func (p *Planner) fallback(intent Intent, reason string, err error) PlanDecision {
	stages := DefaultPlan(intent)
	p.logger.Warn().Err(err).Str("reason", reason).Interface("stages", stages).Msg("plan fallback")
	return PlanDecision{Stages: stages, Fallback: &FallbackApplied{Step: "plan", Reason: reason, Err: err}}
}

// DefaultPlan is the deterministic plan used when the oracle's is unusable.
func DefaultPlan(intent Intent) []Stage {
	if intent == IntentSummarize {
		return []Stage{StageSummarize}
	}
	return []Stage{StageSearch}
}

var errNotArray = errors.New("plan is not a JSON array")

// ParseStages reads a JSON array of stage names, optionally wrapped in a
// Markdown code fence. Entries that are not valid stage names are dropped
// and the remaining order is kept.
func ParseStages(text string) ([]Stage, error) {
	text = stripFence(text)
	var raw []any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errNotArray
		}
		return nil, err
	}
	stages := make([]Stage, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if ok && validStage(s) {
			stages = append(stages, Stage(s))
		}
	}
	return stages, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "```") {
		return text
	}
	parts := strings.Split(text, "```")
	body := strings.TrimSpace(parts[1])
	body = strings.TrimPrefix(body, "json")
	return strings.TrimSpace(body)
}
