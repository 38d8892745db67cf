package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/turnkeeper/internal/history"
	"github.com/mohammad-safakhou/turnkeeper/internal/orchestrator"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
)

type QueryHandler struct {
	Orch   Orchestrator
	Logger zerolog.Logger
}

func (h *QueryHandler) Register(g *echo.Group) {
	g.POST("/query", h.query)
	g.GET("/history", h.history)
	g.GET("/history/search", h.search)
}

type queryRequest struct {
	Query  string `json:"query"`
	Intent string `json:"intent"`
}

// TurnView is a turn as returned by the API.
type TurnView struct {
	turn.Turn
	State turn.State `json:"state"`
}

// TurnViews pairs each turn with its classified state.
func TurnViews(turns []turn.Turn) []TurnView {
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnView{Turn: t, State: turn.Classify(t)})
	}
	return out
}

// QueryResponse carries stage outputs only for stages that ran in this
// request.
type QueryResponse struct {
	Success        bool       `json:"success"`
	Query          string     `json:"query"`
	Turn           int        `json:"turn"`
	Intent         string     `json:"intent"`
	State          turn.State `json:"state"`
	PlannedStages  []string   `json:"planned_stages"`
	ExecutedStages []string   `json:"executed_stages"`
	SkippedStages  []string   `json:"skipped_stages"`
	LastMessages   []TurnView `json:"last_5_messages"`
	RequestID      string     `json:"request_id"`

	SearchResults        *string                          `json:"search_results,omitempty"`
	SearchConfidence     *float64                         `json:"search_confidence,omitempty"`
	Summary              *string                          `json:"summary,omitempty"`
	SummaryConfidence    *float64                         `json:"summary_confidence,omitempty"`
	SummarizingMessages  []orchestrator.SummarizedMessage `json:"summarizing_messages,omitempty"`
	ConversationResponse *string                          `json:"conversation_response,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// NewQueryResponse shapes a driver result for the API.
func NewQueryResponse(res *orchestrator.Result) QueryResponse {
	t := res.Turn
	out := QueryResponse{
		Success:        true,
		Query:          t.Query,
		Turn:           t.Number,
		Intent:         string(res.Intent),
		State:          res.State,
		PlannedStages:  nonNil(res.PlannedStages),
		ExecutedStages: nonNil(res.ExecutedStages),
		SkippedStages:  nonNil(res.SkippedStages),
		LastMessages:   TurnViews(res.History),
		RequestID:      res.RequestID,
	}
	if res.Executed(orchestrator.ExecutedSearch) {
		out.SearchResults = &t.RetrievalText
		out.SearchConfidence = &t.RetrievalConfidence
	}
	if res.Executed(orchestrator.ExecutedSummary) {
		out.Summary = &t.SummaryText
		out.SummaryConfidence = &t.SummaryConfidence
		out.SummarizingMessages = res.SummarizingMessages
	}
	if res.Executed(orchestrator.ExecutedConversationQuery) {
		resp := res.ConversationResponse
		out.ConversationResponse = &resp
		out.Summary = &resp
		out.SummaryConfidence = &t.SummaryConfidence
	}
	return out
}

func (h *QueryHandler) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Query is required")
	}

	var intent orchestrator.Intent
	if req.Intent != "" {
		parsed, err := orchestrator.ParseIntent(req.Intent)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		intent = parsed
	}

	res, err := h.Orch.Handle(c.Request().Context(), orchestrator.Request{Query: req.Query, Intent: intent})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewQueryResponse(res))
}

func (h *QueryHandler) history(c echo.Context) error {
	turns, err := h.Orch.History(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "history": TurnViews(turns)})
}

func (h *QueryHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	k := history.DefaultLimit
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = n
	}

	turns, err := h.Orch.History(c.Request().Context())
	if err != nil {
		return err
	}
	hits, err := history.Search(turns, q, k)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "query": q, "hits": hits})
}
