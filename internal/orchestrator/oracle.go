package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/turnkeeper/internal/llm"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
)

type IntentDecision struct {
	Intent   Intent
	Fallback *FallbackApplied
}

type PlanDecision struct {
	Stages   []Stage
	Fallback *FallbackApplied
}

// PlanRequest is what the planner sees about the current request.
type PlanRequest struct {
	Query   string
	Intent  Intent
	Current turn.Turn
	History []turn.Turn
}

// Oracle is the non-deterministic planning collaborator. Implementations
// must always return a usable decision.
type Oracle interface {
	ResolveIntent(ctx context.Context, query string, history []turn.Turn) IntentDecision
	Plan(ctx context.Context, req PlanRequest) PlanDecision
}

// LLMOracle answers both questions with the completion service.
type LLMOracle struct {
	resolver *IntentResolver
	planner  *Planner
}

func NewLLMOracle(c llm.Completer, logger zerolog.Logger) *LLMOracle {
	return &LLMOracle{
		resolver: NewIntentResolver(c, logger),
		planner:  NewPlanner(c, logger),
	}
}

func (o *LLMOracle) ResolveIntent(ctx context.Context, query string, history []turn.Turn) IntentDecision {
	return o.resolver.Resolve(ctx, query, history)
}

func (o *LLMOracle) Plan(ctx context.Context, req PlanRequest) PlanDecision {
	return o.planner.Plan(ctx, req)
}

const historyWindow = 5

// historyBlock renders the recent-history context shared by the intent
// and planning prompts.
func historyBlock(history []turn.Turn) string {
	history = turn.Recent(history, historyWindow)
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRecent conversation history:\n")
	for i, t := range history {
		fmt.Fprintf(&b, "%d. Query: %s\n", i+1, t.Query)
		if t.SummaryText != "" {
			fmt.Fprintf(&b, "   Summary: %s...\n", prefix(t.SummaryText, 100))
		}
	}
	return b.String()
}

// IntentResolver classifies a query.
type IntentResolver struct {
	llm    llm.Completer
	logger zerolog.Logger
}

func NewIntentResolver(c llm.Completer, logger zerolog.Logger) *IntentResolver {
	return &IntentResolver{llm: c, logger: logger.With().Str("component", "intent").Logger()}
}

const intentSystem = "You are a helpful assistant that analyzes user queries to determine intent. " +
	"Always respond with exactly one word: search, summarize, or conversation_query."

func intentPrompt(query string, history []turn.Turn) string {
	return fmt.Sprintf(`Analyze the following user query and determine their intent.%s

User Query: %q

The user wants to:
- "search" if they're asking a NEW question or want to search for NEW information
- "summarize" if they want a summary or brief of search results
- "conversation_query" if they're asking ABOUT previous conversations (e.g. "what did we discuss?", "what was the last thing we talked about?", "remind me what we searched for")

Respond with ONLY one word: search, summarize, or conversation_query
`, historyBlock(history), query)
}

// Resolve never fails; unusable output resolves to search.
func (r *IntentResolver) Resolve(ctx context.Context, query string, history []turn.Turn) IntentDecision {
	text, err := r.llm.Complete(ctx, llm.Prompt{
		System:      intentSystem,
		User:        intentPrompt(query, history),
		Temperature: 0.3,
	})
	if err != nil {
		return r.fallback("completion failed", err)
	}
	if intent, ok := matchIntent(text); ok {
		r.logger.Debug().Str("intent", string(intent)).Msg("intent resolved")
		return IntentDecision{Intent: intent}
	}
	return r.fallback(fmt.Sprintf("no intent in %q", prefix(text, 80)), nil)
}

func (r *IntentResolver) fallback(reason string, err error) IntentDecision {
	f := &FallbackApplied{Step: "intent", Reason: reason, Err: err}
	r.logger.Warn().Err(err).Str("reason", reason).Msg("intent fallback to search")
	return IntentDecision{Intent: IntentSearch, Fallback: f}
}

func matchIntent(text string) (Intent, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, i := range intentPriority {
		if strings.Contains(text, string(i)) {
			return i, true
		}
	}
	return "", false
}
