package pipeline

import (
	"context"
	"sync"

	"github.com/casewright/casewright/internal/document"
	"github.com/casewright/casewright/internal/testcase"
)

// Event reports one unit's state transition to run observers (the TUI).
type Event struct {
	DocumentID string
	ChunkIndex int
	State      State
}

// Runner fans requirement chunks out to pipeline units under bounded
// parallelism. Output order is fixed by input chunk index regardless of
// completion order, and one unit's failure never aborts its siblings.
type Runner struct {
	pipeline *Pipeline
	limit    int
	observer func(Event)
}

// NewRunner builds a runner. limit caps in-flight units; values < 1 run
// sequentially.
func NewRunner(p *Pipeline, limit int, observer func(Event)) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{pipeline: p, limit: limit, observer: observer}
}

// Run executes every chunk and returns one terminal outcome per chunk,
// indexed by input position. Cancellation stops dispatching new units;
// units never dispatched are returned in the canceled state while in-flight
// units run to their own cancellation checkpoint.
func (r *Runner) Run(ctx context.Context, chunks []document.Chunk) []Outcome {
	outcomes := make([]Outcome, len(chunks))
	slots := make(chan struct{}, r.limit)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{
				DocumentID: chunk.DocumentID,
				ChunkIndex: chunk.Index,
				State:      StateCanceled,
				Err:        err,
			}
			r.notify(chunk, StateCanceled)
			continue
		}
		slots <- struct{}{}
		wg.Add(1)
		go func(i int, chunk document.Chunk) {
			defer wg.Done()
			defer func() { <-slots }()
			outcomes[i] = r.pipeline.Run(ctx, chunk, func(state State) {
				r.notify(chunk, state)
			})
		}(i, chunk)
	}
	wg.Wait()
	return outcomes
}

func (r *Runner) notify(chunk document.Chunk, state State) {
	if r.observer != nil {
		r.observer(Event{DocumentID: chunk.DocumentID, ChunkIndex: chunk.Index, State: state})
	}
}

// Summary condenses a run's outcomes for reporting and exit-code decisions.
type Summary struct {
	Units     int
	Succeeded int
	Failed    int
	Canceled  int
	Warnings  int
	Cases     int
}

// Summarize tallies outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Units: len(outcomes)}
	for _, o := range outcomes {
		switch o.State {
		case StateFinal:
			s.Succeeded++
			s.Cases += len(o.Cases)
		case StateCanceled:
			s.Canceled++
		default:
			s.Failed++
		}
		s.Warnings += len(o.Warnings)
	}
	return s
}

// Collect converts successful outcomes into aggregator inputs, preserving
// chunk provenance. Failed and canceled units contribute nothing.
func Collect(outcomes []Outcome) []testcase.UnitResult {
	var results []testcase.UnitResult
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		results = append(results, testcase.UnitResult{
			DocumentID: o.DocumentID,
			ChunkIndex: o.ChunkIndex,
			Cases:      o.Cases,
		})
	}
	return results
}
