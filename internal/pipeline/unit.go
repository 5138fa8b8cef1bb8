package pipeline

import (
	"github.com/casewright/casewright/internal/testcase"
)

// State enumerates the per-unit pipeline phases. Transitions are strictly
// sequential within a unit; FAILED is reachable from any state.
type State string

const (
	StateIngested State = "ingested"
	StateAnalyzed State = "analyzed"
	StateDesigned State = "designed"
	StateDrafted  State = "drafted"
	StateReviewed State = "reviewed"
	StateRevising State = "revising"
	StateApproved State = "approved"
	StateFinal    State = "final"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Terminal reports whether a unit in this state is done.
func (s State) Terminal() bool {
	return s == StateFinal || s == StateFailed || s == StateCanceled
}

// Warning flags a non-fatal condition attached to a finished unit.
type Warning string

// WarningReviewLoopExceeded marks a unit whose review loop ran out of
// iterations: the last draft is emitted anyway, never dropped.
const WarningReviewLoopExceeded Warning = "review-loop-exceeded"

// Outcome is one unit's terminal result. A FINAL unit carries its cases; a
// FAILED unit carries the error annotated with the chunk's source locator.
type Outcome struct {
	DocumentID   string
	ChunkIndex   int
	State        State
	Cases        []testcase.TestCase
	Warnings     []Warning
	WriterPasses int
	Err          error
}

// Succeeded reports whether the unit contributed cases to the run.
func (o Outcome) Succeeded() bool {
	return o.State == StateFinal
}

// HasWarning reports whether the outcome carries a specific warning flag.
func (o Outcome) HasWarning(w Warning) bool {
	for _, got := range o.Warnings {
		if got == w {
			return true
		}
	}
	return false
}
