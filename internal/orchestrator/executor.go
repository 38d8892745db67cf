package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/turnkeeper/internal/rpc"
	"github.com/mohammad-safakhou/turnkeeper/internal/store"
	"github.com/mohammad-safakhou/turnkeeper/internal/telemetry"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
)

// Searcher is the retrieval tool.
type Searcher interface {
	Search(ctx context.Context, query string) (rpc.ToolResult, error)
}

// Summarizer is the condensation tool.
type Summarizer interface {
	Summarize(ctx context.Context, documents []string) (rpc.ToolResult, error)
}

const (
	summaryWindow  = 3
	messageExcerpt = 200
)

// Executor runs single stages against a turn. A stage whose output is
// already present is a no-op and makes no remote call.
type Executor struct {
	search      Searcher
	summary     Summarizer
	callTimeout time.Duration
	window      int
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
}

type ExecutorOptions struct {
	CallTimeout   time.Duration
	SummaryWindow int
	Metrics       *telemetry.Metrics
}

func NewExecutor(search Searcher, summary Summarizer, opts ExecutorOptions, logger zerolog.Logger) *Executor {
	if opts.SummaryWindow <= 0 {
		opts.SummaryWindow = summaryWindow
	}
	return &Executor{
		search:      search,
		summary:     summary,
		callTimeout: opts.CallTimeout,
		window:      opts.SummaryWindow,
		metrics:     opts.Metrics,
		logger:      logger.With().Str("component", "executor").Logger(),
	}
}

func (e *Executor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.callTimeout)
}

// ExecuteSearch fills the turn's retrieval output unless it already has one.
func (e *Executor) ExecuteSearch(ctx context.Context, query string, t turn.Turn) (turn.Turn, bool, error) {
	if t.HasRetrieval() {
		e.logger.Debug().Int("turn", t.Number).Msg("search already done, skipping")
		return t, false, nil
	}
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	res, err := e.search.Search(callCtx, query)
	if err != nil {
		e.metrics.RemoteFailure("search")
		return t, false, fmt.Errorf("search: %w", err)
	}
	t.RetrievalText = res.Text
	t.RetrievalConfidence = res.Confidence
	e.logger.Info().Int("turn", t.Number).Float64("confidence", res.Confidence).Msg("search executed")
	return t, true, nil
}

// ExecuteSummarize condenses the most recent turns with output, read from
// s, into the turn's summary unless it already has one.
func (e *Executor) ExecuteSummarize(ctx context.Context, s store.Store, t turn.Turn) (turn.Turn, []SummarizedMessage, bool, error) {
	if t.HasSummary() {
		e.logger.Debug().Int("turn", t.Number).Msg("summary already done, skipping")
		return t, nil, false, nil
	}
	turns, err := s.Load(ctx)
	if err != nil {
		return t, nil, false, err
	}
	selected := turn.LastWithContent(turns, e.window)
	if len(selected) == 0 {
		return t, nil, false, &NoPriorContentError{Turn: t.Number}
	}

	messages := make([]SummarizedMessage, 0, len(selected))
	parts := make([]string, 0, len(selected))
	for i, st := range selected {
		content := st.Content()
		parts = append(parts, fmt.Sprintf("Response %d: %s", i+1, content))
		messages = append(messages, SummarizedMessage{
			Query:   st.Query,
			Content: excerpt(content, messageExcerpt),
			Turn:    st.Number,
		})
	}

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	res, err := e.summary.Summarize(callCtx, []string{strings.Join(parts, "\n\n")})
	if err != nil {
		e.metrics.RemoteFailure("summary")
		return t, nil, false, fmt.Errorf("summarize: %w", err)
	}
	t.SummaryText = res.Text
	t.SummaryConfidence = res.Confidence
	e.logger.Info().Int("turn", t.Number).Int("sources", len(selected)).Msg("summary executed")
	return t, messages, true, nil
}
