package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/turnkeeper/internal/llm"
	"github.com/mohammad-safakhou/turnkeeper/internal/rpc"
	"github.com/mohammad-safakhou/turnkeeper/internal/store"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	text    string
	err     error
	// hang blocks until the call context ends
	hang bool
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (rpc.ToolResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	hang := f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return rpc.ToolResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return rpc.ToolResult{}, f.err
	}
	text := f.text
	if text == "" {
		text = "results for " + query
	}
	return rpc.ToolResult{Text: text, Confidence: 0.4, Source: "fake"}, nil
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeSummarizer struct {
	mu   sync.Mutex
	docs [][]string
	err  error
}

func (f *fakeSummarizer) Summarize(_ context.Context, documents []string) (rpc.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, documents)
	if f.err != nil {
		return rpc.ToolResult{}, f.err
	}
	return rpc.ToolResult{Text: "condensed", Confidence: 0.4, Source: "fake"}, nil
}

func (f *fakeSummarizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// scriptedOracle returns fixed decisions and records what it was asked.
type scriptedOracle struct {
	intent IntentDecision
	plan   func(req PlanRequest) PlanDecision

	intentCalls int
	planReqs    []PlanRequest
}

func (o *scriptedOracle) ResolveIntent(context.Context, string, []turn.Turn) IntentDecision {
	o.intentCalls++
	return o.intent
}

func (o *scriptedOracle) Plan(_ context.Context, req PlanRequest) PlanDecision {
	o.planReqs = append(o.planReqs, req)
	if o.plan == nil {
		return PlanDecision{Stages: DefaultPlan(req.Intent)}
	}
	return o.plan(req)
}

// countingCompleter answers every prompt with reply or err.
type countingCompleter struct {
	reply   string
	err     error
	prompts []llm.Prompt
}

func (c *countingCompleter) Complete(_ context.Context, p llm.Prompt) (string, error) {
	c.prompts = append(c.prompts, p)
	return c.reply, c.err
}

// hangingCompleter never answers before the context ends.
type hangingCompleter struct{}

func (hangingCompleter) Complete(ctx context.Context, _ llm.Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

var errToolDown = errors.New("tool down")

func newFileStore(t *testing.T) *store.FileStore {
	t.Helper()
	return store.NewFileStore(filepath.Join(t.TempDir(), "state.csv"), zerolog.Nop())
}

func seed(t *testing.T, s store.Store, turns ...turn.Turn) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), turns))
}

type harness struct {
	store     *store.FileStore
	oracle    *scriptedOracle
	search    *fakeSearcher
	summary   *fakeSummarizer
	completer *countingCompleter
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, Options{})
}

// newHarnessWith builds a harness whose executor shares opts.CallTimeout.
func newHarnessWith(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:     newFileStore(t),
		oracle:    &scriptedOracle{intent: IntentDecision{Intent: IntentSearch}},
		search:    &fakeSearcher{},
		summary:   &fakeSummarizer{},
		completer: &countingCompleter{reply: "we talked about Lisbon"},
	}
	h.build(opts, h.oracle, h.completer)
	return h
}

func (h *harness) build(opts Options, oracle Oracle, c llm.Completer) {
	logger := zerolog.Nop()
	exec := NewExecutor(h.search, h.summary, ExecutorOptions{CallTimeout: opts.CallTimeout}, logger)
	g := store.NewGuarded(h.store, store.NewProcessLocker(h.store.Path()))
	h.orch = New(g, oracle, exec, NewHistoryResponder(c, logger), opts, logger)
}

func (h *harness) load(t *testing.T) []turn.Turn {
	t.Helper()
	turns, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return turns
}
