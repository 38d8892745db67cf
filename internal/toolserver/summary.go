package toolserver

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/turnkeeper/internal/confidence"
	"github.com/mohammad-safakhou/turnkeeper/internal/llm"
	"github.com/mohammad-safakhou/turnkeeper/internal/rpc"
	"github.com/rs/zerolog"
)

const summarySystem = "You are a helpful assistant that summarizes documents concisely."

// Condenser summarizes documents with the completion service.
type Condenser struct {
	llm   llm.Completer
	model string
}

func NewCondenser(c llm.Completer, model string) *Condenser {
	return &Condenser{llm: c, model: model}
}

func (c *Condenser) Summarize(ctx context.Context, documents []string) (rpc.ToolResult, error) {
	// Temperature stays zero so the service default applies.
	text, err := c.llm.Complete(ctx, llm.Prompt{
		System: summarySystem,
		User:   "Summarize:\n" + strings.Join(documents, "\n"),
	})
	if err != nil {
		return rpc.ToolResult{}, err
	}
	return rpc.ToolResult{Text: text, Confidence: confidence.FromText(text), Source: c.model}, nil
}

// NewSummaryServer exposes c as the "summarize" method.
func NewSummaryServer(c *Condenser, logger zerolog.Logger) *Server {
	srv := New("summary", logger)
	srv.Register(rpc.MethodSummarize, func(ctx context.Context, params map[string]any) (any, error) {
		docs, err := stringsParam(params, "documents")
		if err != nil {
			return nil, err
		}
		return c.Summarize(ctx, docs)
	})
	return srv
}
