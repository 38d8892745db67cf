package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
)

// Columns is the canonical header of the persisted log, in write order.
var Columns = []string{
	"query", "turn",
	"search_results", "search_confidence",
	"summary", "summary_confidence",
	"reviewed_summary", "review_confidence",
	"insights", "insights_confidence",
}

// FileStore keeps the turn log in a single CSV file.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a store backed by the CSV file at path. The file is
// created on first save.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "store").Str("path", path).Logger(),
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads every turn in file order. A missing or empty file yields an
// empty slice.
func (s *FileStore) Load(ctx context.Context) ([]turn.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []turn.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open turn store: %w", err)
	}
	defer f.Close()

	turns, err := decode(f, s.path)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Int("turns", len(turns)).Msg("loaded turn log")
	return turns, nil
}

// Save atomically replaces the file with exactly turns.
func (s *FileStore) Save(ctx context.Context, turns []turn.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: s.path, Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &WriteError{Path: s.path, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := encode(tmp, turns); err != nil {
		return &WriteError{Path: s.path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &WriteError{Path: s.path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: s.path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &WriteError{Path: s.path, Op: "rename", Err: err}
	}
	committed = true
	s.logger.Debug().Int("turns", len(turns)).Msg("saved turn log")
	return nil
}

func decode(r io.Reader, path string) ([]turn.Turn, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []turn.Turn{}, nil
	}
	if err != nil {
		return nil, &CorruptError{Path: path, Line: 1, Reason: "unreadable header", Err: err}
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	for _, required := range []string{"query", "turn"} {
		if _, ok := index[required]; !ok {
			return nil, &CorruptError{Path: path, Line: 1, Reason: "missing column " + strconv.Quote(required)}
		}
	}

	turns := []turn.Turn{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, &CorruptError{Path: path, Line: line, Reason: "malformed row", Err: err}
		}
		line, _ := cr.FieldPos(0)
		t, err := decodeRow(record, index)
		if err != nil {
			return nil, &CorruptError{Path: path, Line: line, Err: err}
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func decodeRow(record []string, index map[string]int) (turn.Turn, error) {
	cell := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}
	score := func(name string) (float64, error) {
		raw := strings.TrimSpace(cell(name))
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return v, nil
	}

	t := turn.Turn{
		Query:           cell("query"),
		RetrievalText:   cell("search_results"),
		SummaryText:     cell("summary"),
		ReviewedSummary: cell("reviewed_summary"),
		Insights:        cell("insights"),
	}
	// non-numeric turn cells count as zero
	if n, err := strconv.Atoi(strings.TrimSpace(cell("turn"))); err == nil {
		t.Number = n
	}
	var err error
	if t.RetrievalConfidence, err = score("search_confidence"); err != nil {
		return t, err
	}
	if t.SummaryConfidence, err = score("summary_confidence"); err != nil {
		return t, err
	}
	if t.ReviewConfidence, err = score("review_confidence"); err != nil {
		return t, err
	}
	if t.InsightsConfidence, err = score("insights_confidence"); err != nil {
		return t, err
	}
	return t, nil
}

func encode(w io.Writer, turns []turn.Turn) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, t := range turns {
		row := []string{
			t.Query, strconv.Itoa(t.Number),
			t.RetrievalText, formatScore(t.RetrievalText, t.RetrievalConfidence),
			t.SummaryText, formatScore(t.SummaryText, t.SummaryConfidence),
			t.ReviewedSummary, formatScore(t.ReviewedSummary, t.ReviewConfidence),
			t.Insights, formatScore(t.Insights, t.InsightsConfidence),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatScore leaves the cell empty for unset outputs and always writes a
// decimal point so 1 reads back as "1.0".
func formatScore(text string, v float64) string {
	if text == "" && v == 0 {
		return ""
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
