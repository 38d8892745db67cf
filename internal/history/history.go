// Package history provides full-text search over the turn log.
package history

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
)

const DefaultLimit = 5

// Hit is one matching turn.
type Hit struct {
	Turn  turn.Turn `json:"turn"`
	Score float64   `json:"score"`
}

type document struct {
	Query   string `json:"query"`
	Search  string `json:"search_results"`
	Summary string `json:"summary"`
}

// Index is an in-memory index over one snapshot of the log.
type Index struct {
	index bleve.Index
	turns []turn.Turn
}

// Build indexes the query and outputs of every turn.
func Build(turns []turn.Turn) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("history index: %w", err)
	}
	batch := idx.NewBatch()
	for i, t := range turns {
		doc := document{Query: t.Query, Search: t.RetrievalText, Summary: t.SummaryText}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("history index turn %d: %w", t.Number, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("history index: %w", err)
	}
	return &Index{index: idx, turns: turns}, nil
}

// Search returns up to k turns ranked by relevance to q.
func (x *Index) Search(q string, k int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultLimit
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k, 0, false)
	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("history search: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		i, err := strconv.Atoi(h.ID)
		if err != nil || i < 0 || i >= len(x.turns) {
			continue
		}
		hits = append(hits, Hit{Turn: x.turns[i], Score: h.Score})
	}
	return hits, nil
}

func (x *Index) Close() error { return x.index.Close() }

// Search builds a throwaway index over turns and queries it.
func Search(turns []turn.Turn, q string, k int) ([]Hit, error) {
	idx, err := Build(turns)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	return idx.Search(q, k)
}
