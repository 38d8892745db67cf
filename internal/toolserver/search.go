package toolserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/turnkeeper/internal/confidence"
	"github.com/mohammad-safakhou/turnkeeper/internal/rpc"
	"github.com/mohammad-safakhou/turnkeeper/internal/transport"
	"github.com/rs/zerolog"
)

const (
	DefaultSerperURL = "https://google.serper.dev/search"
	SerperSource     = "serper-api"
	snippetSeparator = " || "
)

var ErrNoSerperKey = errors.New("serper API key not configured")

// Serper searches the web through serper.dev and returns joined snippets.
type Serper struct {
	apiKey  string
	url     string
	results int
	http    *transport.HTTPClient
}

func NewSerper(apiKey, url string, results int, httpc *transport.HTTPClient) *Serper {
	if url == "" {
		url = DefaultSerperURL
	}
	if results <= 0 {
		results = 5
	}
	return &Serper{apiKey: apiKey, url: url, results: results, http: httpc}
}

func (s *Serper) Search(ctx context.Context, query string) (rpc.ToolResult, error) {
	if s.apiKey == "" {
		return rpc.ToolResult{}, ErrNoSerperKey
	}
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body := map[string]any{"q": query, "num": s.results}
	if err := s.http.DoJSON(ctx, http.MethodPost, s.url, headers, body, &resp); err != nil {
		return rpc.ToolResult{}, err
	}
	snippets := make([]string, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		snippets = append(snippets, r.Snippet)
	}
	text := strings.Join(snippets, snippetSeparator)
	return rpc.ToolResult{Text: text, Confidence: confidence.FromText(text), Source: SerperSource}, nil
}

// Searcher is what the search tool delegates to.
type Searcher interface {
	Search(ctx context.Context, query string) (rpc.ToolResult, error)
}

// NewSearchServer exposes s as the "search" method.
func NewSearchServer(s Searcher, logger zerolog.Logger) *Server {
	srv := New("search", logger)
	srv.Register(rpc.MethodSearch, func(ctx context.Context, params map[string]any) (any, error) {
		q, err := stringParam(params, "query")
		if err != nil {
			return nil, err
		}
		return s.Search(ctx, q)
	})
	return srv
}
