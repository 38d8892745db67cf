// Package rpc speaks the JSON-RPC 2.0 dialect used by the tool services.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/mohammad-safakhou/turnkeeper/internal/transport"
	"github.com/rs/zerolog"
)

const Version = "2.0"

// Method names understood by the tool services.
const (
	MethodListTools = "list_tools"
	MethodSearch    = "search"
	MethodSummarize = "summarize"
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int64          `json:"id"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type Error struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// RemoteToolError is a failure reported by the tool service itself.
type RemoteToolError struct {
	Endpoint string
	Method   string
	Code     int
	Message  string
}

func (e *RemoteToolError) Error() string {
	return fmt.Sprintf("remote tool error: %s: %s", e.Method, e.Message)
}

// ToolResult is the common result shape of search and summarize.
type ToolResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Client calls one tool service endpoint. It never retries and imposes no
// deadline of its own; both belong to the caller's context.
type Client struct {
	endpoint string
	http     *transport.HTTPClient
	nextID   atomic.Int64
	logger   zerolog.Logger
}

func NewClient(endpoint string, httpc *transport.HTTPClient, logger zerolog.Logger) *Client {
	if httpc == nil {
		httpc = transport.NewHTTPClient(0, 0, 0)
	}
	return &Client{
		endpoint: endpoint,
		http:     httpc,
		logger:   logger.With().Str("component", "rpc").Str("endpoint", endpoint).Logger(),
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

// Call invokes method and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	req := Request{JSONRPC: Version, Method: method, Params: params, ID: c.nextID.Add(1)}
	c.logger.Debug().Str("method", method).Int64("id", req.ID).Msg("calling tool service")

	var resp Response
	if err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, c.endpoint, err)
	}
	if resp.Error != nil {
		c.logger.Error().Str("method", method).Str("error", resp.Error.Message).Msg("tool service error")
		return nil, &RemoteToolError{Endpoint: c.endpoint, Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%s %s: response carries no result", method, c.endpoint)
	}
	return resp.Result, nil
}

// CallInto invokes method and decodes the result into out.
func (c *Client) CallInto(ctx context.Context, method string, params map[string]any, out any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s result: %w", method, err)
	}
	return nil
}

// ListTools returns the methods the service advertises.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	var tools []string
	if err := c.CallInto(ctx, MethodListTools, nil, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// IsRemote reports whether err came from the tool service rather than the
// transport.
func IsRemote(err error) bool {
	var re *RemoteToolError
	return errors.As(err, &re)
}
