// Package llm is the completion service client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/turnkeeper/internal/transport"
	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Prompt is a single system+user exchange. A zero Temperature leaves the
// service default in place.
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

// Completer returns the model's text for a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, p Prompt) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

var ErrNoAPIKey = errors.New("completion API key not configured")

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// OpenAI talks to an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	opts   Options
	http   *transport.HTTPClient
	logger zerolog.Logger
}

func NewOpenAI(opts Options, logger zerolog.Logger) *OpenAI {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	return &OpenAI{
		opts:   opts,
		http:   transport.NewHTTPClient(opts.Timeout, opts.MaxRetries, 300*time.Millisecond),
		logger: logger.With().Str("component", "llm").Str("model", opts.Model).Logger(),
	}
}

// Model is the configured model name.
func (o *OpenAI) Model() string { return o.opts.Model }

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	if o.opts.APIKey == "" {
		return "", ErrNoAPIKey
	}
	var msgs []chatMsg
	if p.System != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: p.System})
	}
	msgs = append(msgs, chatMsg{Role: "user", Content: p.User})

	req := chatReq{Model: o.opts.Model, Messages: msgs, Temperature: p.Temperature, MaxTokens: o.opts.MaxTokens}
	headers := map[string]string{"Authorization": "Bearer " + o.opts.APIKey}

	start := time.Now()
	var out chatResp
	if err := o.http.DoJSON(ctx, http.MethodPost, o.opts.BaseURL+"/chat/completions", headers, req, &out); err != nil {
		o.logger.Error().Err(err).Msg("completion failed")
		return "", fmt.Errorf("completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion: no choices")
	}
	o.logger.Debug().
		Int("prompt_tokens", out.Usage.PromptTokens).
		Int("completion_tokens", out.Usage.CompletionTokens).
		Dur("took", time.Since(start)).
		Msg("completion")
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
