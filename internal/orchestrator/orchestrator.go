package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/turnkeeper/internal/store"
	"github.com/mohammad-safakhou/turnkeeper/internal/telemetry"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
)

// ErrInvalidRequest wraps every rejection of a malformed request.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one user query. An empty Intent asks the oracle to resolve it.
type Request struct {
	Query  string
	Intent Intent
}

// Result describes what a request did. Stage names in ExecutedStages and
// SkippedStages use the executed-stage vocabulary ("search", "summary").
type Result struct {
	RequestID            string
	Turn                 turn.Turn
	Intent               Intent
	State                turn.State
	PlannedStages        []string
	ExecutedStages       []string
	SkippedStages        []string
	SummarizingMessages  []SummarizedMessage
	ConversationResponse string
	History              []turn.Turn
	Fallbacks            []FallbackApplied
}

// Executed reports whether the named stage ran during this request.
func (r *Result) Executed(stage string) bool {
	for _, s := range r.ExecutedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// ResultHistory is how many trailing turns a Result carries. HistoryWindow
// only sizes the context given to the oracle and responder.
const ResultHistory = 5

type Options struct {
	CallTimeout   time.Duration
	HistoryWindow int
	Metrics       *telemetry.Metrics
}

// Orchestrator drives a request from intent to persisted turn.
type Orchestrator struct {
	store     *store.Guarded
	oracle    Oracle
	exec      *Executor
	responder *HistoryResponder

	callTimeout   time.Duration
	historyWindow int
	metrics       *telemetry.Metrics
	logger        zerolog.Logger
}

func New(g *store.Guarded, oracle Oracle, exec *Executor, responder *HistoryResponder, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = historyWindow
	}
	return &Orchestrator{
		store:         g,
		oracle:        oracle,
		exec:          exec,
		responder:     responder,
		callTimeout:   opts.CallTimeout,
		historyWindow: opts.HistoryWindow,
		metrics:       opts.Metrics,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
	}
}

// History returns the full persisted turn sequence.
func (o *Orchestrator) History(ctx context.Context) ([]turn.Turn, error) {
	return o.store.Snapshot(ctx)
}

// Handle runs one request. Loading, numbering, stage execution and saving
// all happen while holding the store lock.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if req.Intent != "" {
		intent, err := ParseIntent(string(req.Intent))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.Intent = intent
	}

	start := time.Now()
	res := &Result{RequestID: uuid.NewString()}
	logger := o.logger.With().Str("request_id", res.RequestID).Logger()

	err := o.store.Do(ctx, func(ctx context.Context, s store.Store) error {
		return o.handle(ctx, s, req, res, logger)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.Error().Err(err).Str("intent", string(res.Intent)).Msg("request failed")
	}
	o.metrics.Request(string(res.Intent), outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int("turn", res.Turn.Number).
		Str("intent", string(res.Intent)).
		Strs("planned", res.PlannedStages).
		Strs("executed", res.ExecutedStages).
		Dur("took", time.Since(start)).
		Msg("request handled")
	return res, nil
}

func (o *Orchestrator) handle(ctx context.Context, s store.Store, req Request, res *Result, logger zerolog.Logger) error {
	turns, err := s.Load(ctx)
	if err != nil {
		return err
	}
	history := turn.Recent(turns, o.historyWindow)
	logHistory(logger, history)

	intent := req.Intent
	if intent == "" {
		callCtx, cancel := o.callCtx(ctx)
		d := o.oracle.ResolveIntent(callCtx, req.Query, history)
		cancel()
		o.noteFallback(res, d.Fallback)
		intent = d.Intent
	}
	res.Intent = intent

	if intent == IntentConversationQuery {
		return o.answer(ctx, s, req.Query, turns, history, res)
	}

	current := GetOrCreate(turns, req.Query, intent)

	callCtx, cancel := o.callCtx(ctx)
	plan := o.oracle.Plan(callCtx, PlanRequest{Query: req.Query, Intent: intent, Current: current, History: history})
	cancel()
	o.noteFallback(res, plan.Fallback)

	for _, stage := range plan.Stages {
		res.PlannedStages = append(res.PlannedStages, string(stage))

		var (
			executed bool
			name     string
		)
		switch stage {
		case StageSearch:
			name = ExecutedSearch
			current, executed, err = o.exec.ExecuteSearch(ctx, req.Query, current)
		case StageSummarize:
			name = ExecutedSummary
			var msgs []SummarizedMessage
			current, msgs, executed, err = o.exec.ExecuteSummarize(ctx, s, current)
			if executed {
				res.SummarizingMessages = msgs
			}
		default:
			logger.Warn().Str("stage", string(stage)).Msg("ignoring unknown stage")
			continue
		}
		if err != nil {
			o.metrics.Stage(string(stage), "failed")
			return err
		}
		if !executed {
			o.metrics.Stage(string(stage), "skipped")
			res.SkippedStages = append(res.SkippedStages, name)
			continue
		}
		o.metrics.Stage(string(stage), "executed")
		res.ExecutedStages = append(res.ExecutedStages, name)

		// Later stages read the store, so each executed stage is
		// committed before the next one runs.
		turns = turn.Merge(turns, current)
		if err := s.Save(ctx, turns); err != nil {
			return err
		}
	}

	turns = turn.Merge(turns, current)
	if err := s.Save(ctx, turns); err != nil {
		return err
	}
	res.Turn = current
	res.State = turn.Classify(current)
	res.History = turn.Recent(turns, ResultHistory)
	return nil
}

func (o *Orchestrator) answer(ctx context.Context, s store.Store, query string, turns, history []turn.Turn, res *Result) error {
	callCtx, cancel := o.callCtx(ctx)
	ans := o.responder.Answer(callCtx, query, history)
	cancel()

	t := turn.New(query, turn.NextNumber(turns))
	t.SummaryText = ans.Text
	t.SummaryConfidence = ans.Confidence
	turns = append(turns, t)
	if err := s.Save(ctx, turns); err != nil {
		return err
	}
	o.metrics.Stage(string(IntentConversationQuery), "executed")

	res.Turn = t
	res.State = turn.Classify(t)
	res.PlannedStages = []string{ExecutedConversationQuery}
	res.ExecutedStages = []string{ExecutedConversationQuery}
	res.ConversationResponse = ans.Text
	res.History = turn.Recent(turns, ResultHistory)
	return nil
}

// GetOrCreate picks the turn a request works on. Summarize reuses a copy of
// the newest turn with retrieval output under the new query; otherwise the
// newest turn with the identical query is reused, else a new turn is
// numbered.
func GetOrCreate(turns []turn.Turn, query string, intent Intent) turn.Turn {
	if intent == IntentSummarize {
		if latest, ok := turn.LatestWithRetrieval(turns); ok {
			latest.Query = query
			return latest
		}
	}
	if t, ok := turn.LatestByQuery(turns, query); ok {
		return t
	}
	return turn.New(query, turn.NextNumber(turns))
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.callTimeout)
}

func (o *Orchestrator) noteFallback(res *Result, f *FallbackApplied) {
	if f == nil {
		return
	}
	o.metrics.Fallback(f.Step)
	res.Fallbacks = append(res.Fallbacks, *f)
}

func logHistory(logger zerolog.Logger, history []turn.Turn) {
	if e := logger.Debug(); e.Enabled() {
		if len(history) == 0 {
			e.Msg("no previous messages")
			return
		}
		arr := zerolog.Arr()
		for _, t := range history {
			arr.Dict(zerolog.Dict().
				Int("turn", t.Number).
				Str("query", t.Query).
				Str("summary", excerpt(t.SummaryText, 150)).
				Bool("has_search_results", t.HasRetrieval()))
		}
		e.Array("history", arr).Msg("recent context")
	}
}
