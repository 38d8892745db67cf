package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/turnkeeper/internal/confidence"
	"github.com/mohammad-safakhou/turnkeeper/internal/llm"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
)

// NoHistoryAnswer is returned without a remote call when there is nothing
// to talk about.
const NoHistoryAnswer = "I don't have any previous conversation history to reference. Please start a new search or query."

const failedAnswerConfidence = 0.5

type Answer struct {
	Text       string
	Confidence float64
}

// HistoryResponder answers questions about the conversation itself.
type HistoryResponder struct {
	llm    llm.Completer
	logger zerolog.Logger
}

func NewHistoryResponder(c llm.Completer, logger zerolog.Logger) *HistoryResponder {
	return &HistoryResponder{llm: c, logger: logger.With().Str("component", "responder").Logger()}
}

const responderSystem = "You are a helpful assistant that answers questions about previous conversations. " +
	"Use the conversation history to provide accurate and helpful responses."

func responderPrompt(query string, history []turn.Turn) string {
	var b strings.Builder
	b.WriteString("Previous conversation history:\n\n")
	for i, t := range history {
		fmt.Fprintf(&b, "Conversation %d:\n", i+1)
		fmt.Fprintf(&b, "  Query: %s\n", t.Query)
		if t.RetrievalText != "" {
			fmt.Fprintf(&b, "  Search Results: %s\n", excerpt(t.RetrievalText, messageExcerpt))
		}
		if t.SummaryText != "" {
			fmt.Fprintf(&b, "  Summary: %s\n", t.SummaryText)
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(`Based on the conversation history below, answer the user's question about previous conversations.

%s
User's question: %q

Provide a helpful and concise answer based on the conversation history. If the question cannot be answered from the history, politely say so.
`, b.String(), query)
}

// Answer never fails; errors become the answer text.
func (r *HistoryResponder) Answer(ctx context.Context, query string, history []turn.Turn) Answer {
	if len(history) == 0 {
		return Answer{Text: NoHistoryAnswer, Confidence: 1.0}
	}
	text, err := r.llm.Complete(ctx, llm.Prompt{
		System:      responderSystem,
		User:        responderPrompt(query, history),
		Temperature: 0.3,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("conversation answer failed")
		return Answer{
			Text:       "I encountered an error while processing your question about previous conversations: " + err.Error(),
			Confidence: failedAnswerConfidence,
		}
	}
	return Answer{Text: text, Confidence: confidence.FromText(text)}
}
