package rpc

import (
	"context"

	"github.com/mohammad-safakhou/turnkeeper/internal/transport"
	"github.com/rs/zerolog"
)

// SearchClient talks to the retrieval tool.
type SearchClient struct {
	*Client
}

func NewSearchClient(endpoint string, httpc *transport.HTTPClient, logger zerolog.Logger) *SearchClient {
	return &SearchClient{Client: NewClient(endpoint, httpc, logger)}
}

func (c *SearchClient) Search(ctx context.Context, query string) (ToolResult, error) {
	c.logger.Info().Str("query", truncate(query, 50)).Msg("search")
	var out ToolResult
	err := c.CallInto(ctx, MethodSearch, map[string]any{"query": query}, &out)
	return out, err
}

// SummaryClient talks to the condensation tool.
type SummaryClient struct {
	*Client
}

func NewSummaryClient(endpoint string, httpc *transport.HTTPClient, logger zerolog.Logger) *SummaryClient {
	return &SummaryClient{Client: NewClient(endpoint, httpc, logger)}
}

func (c *SummaryClient) Summarize(ctx context.Context, documents []string) (ToolResult, error) {
	c.logger.Info().Int("documents", len(documents)).Msg("summarize")
	if documents == nil {
		documents = []string{}
	}
	var out ToolResult
	err := c.CallInto(ctx, MethodSummarize, map[string]any{"documents": documents}, &out)
	return out, err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
