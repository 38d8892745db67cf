package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSearchThenSummarize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Handle(ctx, Request{Query: "weather in Lisbon", Intent: IntentSearch})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Turn.Number)
	assert.NotEmpty(t, first.Turn.RetrievalText)
	assert.Empty(t, first.Turn.SummaryText)
	assert.Equal(t, []string{"search"}, first.ExecutedStages)
	assert.Equal(t, turn.StateSearched, first.State)
	assert.NotEmpty(t, first.RequestID)
	assert.Zero(t, h.oracle.intentCalls)

	second, err := h.orch.Handle(ctx, Request{Query: "summarize that", Intent: IntentSummarize})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Turn.Number)
	assert.Equal(t, "condensed", second.Turn.SummaryText)
	assert.Equal(t, []string{"summarize"}, second.PlannedStages)
	assert.Equal(t, []string{"summary"}, second.ExecutedStages)
	require.Len(t, second.SummarizingMessages, 1)
	assert.Equal(t, 1, second.SummarizingMessages[0].Turn)
	assert.Equal(t, "weather in Lisbon", second.SummarizingMessages[0].Query)

	require.Len(t, h.summary.docs, 1)
	assert.Equal(t, []string{"Response 1: results for weather in Lisbon"}, h.summary.docs[0])

	turns := h.load(t)
	require.Len(t, turns, 1)
	assert.Equal(t, "summarize that", turns[0].Query)
	assert.Equal(t, "condensed", turns[0].SummaryText)
	assert.Equal(t, 1, h.search.calls())
}

func TestHandleRepeatedQueryMakesNoRemoteCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Handle(ctx, Request{Query: "weather in Lisbon", Intent: IntentSearch})
	require.NoError(t, err)
	again, err := h.orch.Handle(ctx, Request{Query: "weather in Lisbon", Intent: IntentSearch})
	require.NoError(t, err)

	assert.Equal(t, 1, h.search.calls())
	assert.Equal(t, 1, again.Turn.Number)
	assert.Equal(t, []string{"search"}, again.PlannedStages)
	assert.Empty(t, again.ExecutedStages)
	assert.Equal(t, []string{"search"}, again.SkippedStages)
	assert.Len(t, h.load(t), 1)
}

func TestHandleSearchThenSummarizeInOneRequest(t *testing.T) {
	h := newHarness(t)
	h.oracle.plan = func(PlanRequest) PlanDecision {
		return PlanDecision{Stages: []Stage{StageSearch, StageSummarize}}
	}

	res, err := h.orch.Handle(context.Background(), Request{Query: "rust async", Intent: IntentSearch})
	require.NoError(t, err)
	assert.Equal(t, []string{"search", "summary"}, res.ExecutedStages)
	// the summarize stage sees the search persisted moments earlier
	require.Len(t, res.SummarizingMessages, 1)
	assert.Equal(t, 1, res.SummarizingMessages[0].Turn)
	assert.Equal(t, turn.StateSummarized, res.State)
}

func TestHandleResolvesIntentWhenAbsent(t *testing.T) {
	h := newHarness(t)
	h.oracle.intent = IntentDecision{Intent: IntentSearch, Fallback: &FallbackApplied{Step: "intent", Reason: "garbage"}}

	res, err := h.orch.Handle(context.Background(), Request{Query: "news"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.oracle.intentCalls)
	assert.Equal(t, IntentSearch, res.Intent)
	require.Len(t, res.Fallbacks, 1)
	assert.Equal(t, "intent", res.Fallbacks[0].Step)
}

func TestHandleConversationQueryAppendsTurn(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, turn.Turn{Query: "weather in Lisbon", Number: 3, RetrievalText: "sunny"})

	res, err := h.orch.Handle(context.Background(), Request{Query: "what did we discuss?", Intent: IntentConversationQuery})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Turn.Number)
	assert.Equal(t, "we talked about Lisbon", res.ConversationResponse)
	assert.Equal(t, res.ConversationResponse, res.Turn.SummaryText)
	assert.Equal(t, []string{"conversation_query"}, res.PlannedStages)
	assert.Equal(t, []string{"conversation_query"}, res.ExecutedStages)
	assert.Empty(t, h.oracle.planReqs)

	turns := h.load(t)
	require.Len(t, turns, 2)
	assert.Equal(t, 4, turns[1].Number)
	assert.Len(t, res.History, 2)
}

func TestHandleConversationQueryOnEmptyStore(t *testing.T) {
	h := newHarness(t)
	res, err := h.orch.Handle(context.Background(), Request{Query: "what did we discuss?", Intent: IntentConversationQuery})
	require.NoError(t, err)
	assert.Equal(t, NoHistoryAnswer, res.ConversationResponse)
	assert.Equal(t, 1.0, res.Turn.SummaryConfidence)
	assert.Empty(t, h.completer.prompts)
}

func TestHandleSummarizeWithEmptyStore(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Handle(context.Background(), Request{Query: "summarize", Intent: IntentSummarize})
	assert.ErrorIs(t, err, ErrNoPriorContent)
	assert.Empty(t, h.load(t))
}

func TestHandleToolFailureKeepsEarlierStages(t *testing.T) {
	h := newHarness(t)
	h.summary.err = errToolDown
	h.oracle.plan = func(PlanRequest) PlanDecision {
		return PlanDecision{Stages: []Stage{StageSearch, StageSummarize}}
	}

	_, err := h.orch.Handle(context.Background(), Request{Query: "q", Intent: IntentSearch})
	assert.ErrorIs(t, err, errToolDown)

	turns := h.load(t)
	require.Len(t, turns, 1)
	assert.NotEmpty(t, turns[0].RetrievalText)
	assert.Empty(t, turns[0].SummaryText)
}

func TestHandleFailingFirstStagePersistsNothing(t *testing.T) {
	h := newHarness(t)
	h.search.err = errToolDown

	_, err := h.orch.Handle(context.Background(), Request{Query: "q", Intent: IntentSearch})
	assert.ErrorIs(t, err, errToolDown)
	assert.Empty(t, h.load(t))
}

func TestHandleRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Handle(context.Background(), Request{Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.orch.Handle(context.Background(), Request{Query: "q", Intent: "review"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestHandleNumbersConcurrentRequestsUniquely(t *testing.T) {
	h := newHarness(t)
	queries := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	errs := make(chan error, len(queries))
	for _, q := range queries {
		go func(q string) {
			_, err := h.orch.Handle(context.Background(), Request{Query: q, Intent: IntentSearch})
			errs <- err
		}(q)
	}
	for range queries {
		require.NoError(t, <-errs)
	}

	seen := map[int]bool{}
	for _, tn := range h.load(t) {
		assert.False(t, seen[tn.Number], "duplicate turn %d", tn.Number)
		seen[tn.Number] = true
	}
	assert.Len(t, seen, len(queries))
}

func TestGetOrCreate(t *testing.T) {
	turns := []turn.Turn{
		{Query: "a", Number: 1, RetrievalText: "r1"},
		{Query: "b", Number: 2},
		{Query: "a", Number: 3},
		{Query: "c", Number: 4, RetrievalText: "r4"},
	}

	assert.Equal(t, 3, GetOrCreate(turns, "a", IntentSearch).Number)
	assert.Equal(t, turn.New("z", 5), GetOrCreate(turns, "z", IntentSearch))

	reused := GetOrCreate(turns, "sum it", IntentSummarize)
	assert.Equal(t, 4, reused.Number)
	assert.Equal(t, "sum it", reused.Query)
	assert.Equal(t, "r4", reused.RetrievalText)
	assert.Equal(t, "c", turns[3].Query)
}

func TestHandleResultHistoryIgnoresPromptWindow(t *testing.T) {
	h := newHarnessWith(t, Options{HistoryWindow: 2})
	var turns []turn.Turn
	for i := 1; i <= 7; i++ {
		turns = append(turns, turn.Turn{Query: fmt.Sprintf("q%d", i), Number: i, RetrievalText: "r"})
	}
	seed(t, h.store, turns...)

	res, err := h.orch.Handle(context.Background(), Request{Query: "q8", Intent: IntentSearch})
	require.NoError(t, err)
	require.Len(t, res.History, ResultHistory)
	assert.Equal(t, 4, res.History[0].Number)
	assert.Equal(t, 8, res.History[ResultHistory-1].Number)

	require.Len(t, h.oracle.planReqs, 1)
	assert.Len(t, h.oracle.planReqs[0].History, 2)
}
