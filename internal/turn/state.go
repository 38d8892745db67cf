package turn

// State is the derived progress classification of a turn. It is read-only
// and used for diagnostics; it never drives control flow.
type State string

const (
	StateInit       State = "INIT"
	StateSearched   State = "SEARCHED"
	StateSummarized State = "SUMMARIZED"
	StateReviewed   State = "REVIEWED"
	StateInsighted  State = "INSIGHTED"
)

// Classify maps a turn onto its State.
func Classify(t Turn) State {
	switch {
	case t.RetrievalText == "":
		return StateInit
	case t.SummaryText == "":
		return StateSearched
	case t.ReviewedSummary == "":
		return StateSummarized
	case t.Insights == "":
		return StateReviewed
	default:
		return StateInsighted
	}
}
