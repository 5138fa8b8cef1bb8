// Package pipeline sequences the four agent roles over one requirement
// chunk and runs many such units in parallel under a shared call budget.
package pipeline

import (
	"context"
	"fmt"

	"github.com/casewright/casewright/internal/agent"
	"github.com/casewright/casewright/internal/document"
)

// Logger is the minimal logging surface the pipeline needs.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Pipeline runs the analyst → designer → writer → qa sequence for one unit
// of work, including the bounded review-revise loop.
type Pipeline struct {
	invoker         *agent.Invoker
	maxIterations   int
	defaultCategory string
	log             Logger
}

// New builds a pipeline. maxIterations bounds review-revise passes beyond
// the initial draft; values < 0 are treated as zero.
func New(invoker *agent.Invoker, profile agent.Profile, maxIterations int, log Logger) (*Pipeline, error) {
	if invoker == nil {
		return nil, fmt.Errorf("pipeline: invoker is required")
	}
	if maxIterations < 0 {
		maxIterations = 0
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Pipeline{
		invoker:         invoker,
		maxIterations:   maxIterations,
		defaultCategory: profile.DefaultCategory(),
		log:             log,
	}, nil
}

// Run drives one chunk through the state machine to a terminal state. The
// observe callback (optional) fires on every state transition; cancellation
// is honored at transition boundaries, never mid-invocation.
func (p *Pipeline) Run(ctx context.Context, chunk document.Chunk, observe func(State)) Outcome {
	unit := Outcome{DocumentID: chunk.DocumentID, ChunkIndex: chunk.Index, State: StateIngested}
	step := func(next State) bool {
		if err := ctx.Err(); err != nil {
			unit.State = StateCanceled
			unit.Err = fmt.Errorf("unit %s: %w", chunk.Locator(), err)
			notify(observe, unit.State)
			return false
		}
		unit.State = next
		notify(observe, next)
		return true
	}
	fail := func(err error) Outcome {
		unit.State = StateFailed
		unit.Cases = nil
		unit.Err = fmt.Errorf("unit %s: %w", chunk.Locator(), err)
		p.log.Error("unit %s failed: %v", chunk.Locator(), err)
		notify(observe, StateFailed)
		return unit
	}

	notify(observe, StateIngested)

	analysis, err := p.invoker.Analyze(ctx, chunk.Text)
	if err != nil {
		return fail(err)
	}
	if !step(StateAnalyzed) {
		return unit
	}

	design, err := p.invoker.Design(ctx, analysis)
	if err != nil {
		return fail(err)
	}
	if !step(StateDesigned) {
		return unit
	}

	var feedback *agent.ReviewFeedback
	for pass := 0; ; pass++ {
		draft, err := p.invoker.DraftCases(ctx, design, feedback)
		if err != nil {
			return fail(err)
		}
		unit.WriterPasses = pass + 1
		kept, dropped := agent.NormalizeDraft(draft.TestCases, p.defaultCategory)
		if dropped > 0 {
			p.log.Warn("unit %s: dropped %d structurally invalid draft case(s)", chunk.Locator(), dropped)
		}
		if len(kept) == 0 {
			return fail(fmt.Errorf("writer produced no structurally valid cases"))
		}
		unit.Cases = kept
		if !step(StateDrafted) {
			return unit
		}

		review, err := p.invoker.Review(ctx, agent.Draft{TestCases: kept})
		if err != nil {
			return fail(err)
		}
		if !step(StateReviewed) {
			return unit
		}

		if !review.Blocking() {
			unit.State = StateApproved
			notify(observe, StateApproved)
			break
		}
		if pass >= p.maxIterations {
			// Out of iterations: ship the last draft rather than drop it.
			unit.Warnings = append(unit.Warnings, WarningReviewLoopExceeded)
			p.log.Warn("unit %s: review loop exceeded %d iteration(s), emitting last draft", chunk.Locator(), p.maxIterations)
			break
		}
		feedback = &review
		if !step(StateRevising) {
			return unit
		}
		p.log.Info("unit %s: revising draft, pass %d of %d", chunk.Locator(), pass+2, p.maxIterations+1)
	}

	unit.State = StateFinal
	notify(observe, StateFinal)
	p.log.Info("unit %s: finalized %d case(s) in %d writer pass(es)", chunk.Locator(), len(unit.Cases), unit.WriterPasses)
	return unit
}

func notify(observe func(State), state State) {
	if observe != nil {
		observe(state)
	}
}
