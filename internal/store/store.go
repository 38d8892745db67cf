// Package store persists the ordered turn log. Every save rewrites the whole
// log; callers load, mutate and save the full collection, inside a Guarded
// critical section when more than one request may write.
package store

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
)

// Store loads and replaces the full ordered collection of turns.
type Store interface {
	Load(ctx context.Context) ([]turn.Turn, error)
	Save(ctx context.Context, turns []turn.Turn) error
}

// CorruptError reports a persisted log that cannot be read back into the
// turn schema.
type CorruptError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	msg := fmt.Sprintf("turn store %s is corrupt", e.Path)
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptError) Unwrap() error { return e.Err }

// WriteError reports an I/O failure while replacing the persisted log.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("turn store %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
