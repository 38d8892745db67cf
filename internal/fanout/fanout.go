// Package fanout runs independent calls concurrently without letting one
// failure cancel the others.
package fanout

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/turnkeeper/internal/llm"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one item. Exactly one of Value and Err is set.
type Outcome[R any] struct {
	Value R
	Err   error
}

// MapConcurrentlyWithIsolation applies fn to every item with at most limit
// calls in flight. Outcomes are returned in input order; a failing item
// only fails its own outcome. A limit below one means unbounded.
func MapConcurrentlyWithIsolation[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					out[i] = Outcome[R]{Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			if err := ctx.Err(); err != nil {
				out[i] = Outcome[R]{Err: err}
				return nil
			}
			v, err := fn(ctx, item)
			out[i] = Outcome[R]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// InsightPrompts builds the three perspectives requested from the model.
func InsightPrompts(text string) []string {
	return []string{
		"Technical insights:\n" + text,
		"Research insights:\n" + text,
		"Future directions:\n" + text,
	}
}

// ParallelInsights asks for every insight perspective at once. Successful
// answers are joined by blank lines; if all fail the error texts are
// reported instead.
func ParallelInsights(ctx context.Context, c llm.Completer, text string) string {
	prompts := InsightPrompts(text)
	outcomes := MapConcurrentlyWithIsolation(ctx, prompts, len(prompts), func(ctx context.Context, p string) (string, error) {
		return c.Complete(ctx, llm.Prompt{User: p, Temperature: 0.3})
	})

	var ok, failed []string
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, "Error: "+o.Err.Error())
			continue
		}
		ok = append(ok, o.Value)
	}
	if len(ok) > 0 {
		return strings.Join(ok, "\n\n")
	}
	return "All insight generation attempts failed:\n" + strings.Join(failed, "\n")
}
