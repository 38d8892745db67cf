// Package turn holds the persisted unit of conversational state and the
// pure helpers (numbering, merging, classification) that operate on it.
package turn

import "sort"

// Turn is one persisted conversational exchange.
type Turn struct {
	Query  string `json:"query"`
	Number int    `json:"turn"`

	RetrievalText       string  `json:"search_results"`
	RetrievalConfidence float64 `json:"search_confidence,omitempty"`

	SummaryText       string  `json:"summary"`
	SummaryConfidence float64 `json:"summary_confidence,omitempty"`

	// Legacy columns kept for schema compatibility. Nothing in the
	// orchestrator writes them.
	ReviewedSummary    string  `json:"reviewed_summary,omitempty"`
	ReviewConfidence   float64 `json:"review_confidence,omitempty"`
	Insights           string  `json:"insights,omitempty"`
	InsightsConfidence float64 `json:"insights_confidence,omitempty"`
}

// New returns an empty turn for query with the given number.
func New(query string, number int) Turn {
	return Turn{Query: query, Number: number}
}

// HasRetrieval reports whether the search stage already produced output.
func (t Turn) HasRetrieval() bool { return t.RetrievalText != "" }

// HasSummary reports whether the summarize stage already produced output.
func (t Turn) HasSummary() bool { return t.SummaryText != "" }

// HasContent reports whether the turn carries any agent output.
func (t Turn) HasContent() bool { return t.HasRetrieval() || t.HasSummary() }

// Content returns the summary when present, otherwise the retrieval text.
func (t Turn) Content() string {
	if t.SummaryText != "" {
		return t.SummaryText
	}
	return t.RetrievalText
}

// NextNumber returns one plus the highest turn number in turns. Turns whose
// number is not positive count as zero.
func NextNumber(turns []Turn) int {
	highest := 0
	for _, t := range turns {
		if t.Number > highest {
			highest = t.Number
		}
	}
	return highest + 1
}

// Merge replaces the first turn sharing t's number, or appends t. The input
// slice is not modified.
func Merge(turns []Turn, t Turn) []Turn {
	out := make([]Turn, len(turns), len(turns)+1)
	copy(out, turns)
	for i := range out {
		if out[i].Number == t.Number {
			out[i] = t
			return out
		}
	}
	return append(out, t)
}

// Recent returns at most the last n turns, oldest first.
func Recent(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// LatestByQuery returns the highest-numbered turn whose query equals query
// exactly.
func LatestByQuery(turns []Turn, query string) (Turn, bool) {
	var (
		found Turn
		ok    bool
	)
	for _, t := range turns {
		if t.Query != query {
			continue
		}
		if !ok || t.Number > found.Number {
			found, ok = t, true
		}
	}
	return found, ok
}

// LatestWithRetrieval returns the highest-numbered turn that has retrieval
// output.
func LatestWithRetrieval(turns []Turn) (Turn, bool) {
	var (
		found Turn
		ok    bool
	)
	for _, t := range turns {
		if !t.HasRetrieval() {
			continue
		}
		if !ok || t.Number > found.Number {
			found, ok = t, true
		}
	}
	return found, ok
}

// LastWithContent returns up to n turns carrying retrieval or summary output,
// ordered by ascending turn number and taken from the newest end.
func LastWithContent(turns []Turn, n int) []Turn {
	var selected []Turn
	for _, t := range turns {
		if t.HasContent() {
			selected = append(selected, t)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Number < selected[j].Number })
	if len(selected) > n {
		selected = selected[len(selected)-n:]
	}
	return selected
}
