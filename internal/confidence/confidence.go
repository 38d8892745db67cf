// Package confidence scores generated text by how much of it there is.
package confidence

import (
	"math"
	"strings"
)

const (
	Min = 0.4
	Max = 0.95

	wordsForFull = 200
)

// FromText returns word_count/200 clamped to [Min, Max] and rounded to two
// decimals.
func FromText(text string) float64 {
	words := len(strings.Fields(text))
	score := float64(words) / wordsForFull
	score = math.Max(Min, math.Min(Max, score))
	return math.Round(score*100) / 100
}
