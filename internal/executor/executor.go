// Package executor interprets a test suite and drives each case's steps
// against a live target through an abstract step driver, classifying every
// case as passed, failed or warning.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/casewright/casewright/internal/testcase"
)

// StepOutcome is the driver's verdict for a single step.
type StepOutcome string

const (
	StepSuccess       StepOutcome = "success"
	StepFailure       StepOutcome = "failure"
	StepIndeterminate StepOutcome = "indeterminate"
)

// Status classifies a whole case after its steps ran.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
)

// Instruction is one step handed to the driver, with enough case context to
// act on it without seeing the whole suite.
type Instruction struct {
	CaseID        string
	CaseTitle     string
	Preconditions []string
	StepIndex     int
	Step          string
	Expected      string
}

// Prompt renders the instruction the way a live-target agent consumes it.
func (in Instruction) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test case: %s\n", in.CaseTitle)
	if len(in.Preconditions) > 0 {
		b.WriteString("Preconditions:\n")
		for i, pre := range in.Preconditions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, pre)
		}
	}
	fmt.Fprintf(&b, "\nStep %d: %s\n", in.StepIndex+1, in.Step)
	fmt.Fprintf(&b, "Expected result: %s\n", in.Expected)
	return b.String()
}

// StepReport is the driver's account of performing one step.
type StepReport struct {
	Outcome StepOutcome
	Detail  string
}

// Driver is the external capability that performs a step against the live
// target. A returned error is treated as a step failure, not a run abort.
type Driver interface {
	Perform(ctx context.Context, in Instruction) (StepReport, error)
}

// StepTrace records one step's execution for audit.
type StepTrace struct {
	Index   int         `json:"index"`
	Step    string      `json:"step"`
	Outcome StepOutcome `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
	Skipped bool        `json:"skipped,omitempty"`
}

// Result is the terminal record for one executed case.
type Result struct {
	TestCaseID      string      `json:"test_case_id"`
	Title           string      `json:"title"`
	Steps           []string    `json:"steps"`
	ExpectedResults []string    `json:"expected_results"`
	Status          Status      `json:"status"`
	ActualResult    string      `json:"actual_result"`
	StepTrace       []StepTrace `json:"step_trace"`
	ExecutedAt      time.Time   `json:"executed_at"`
}

// Options tunes execution behavior.
type Options struct {
	// ContinueOnFailure keeps executing a case's remaining steps after one
	// fails. Default false: once a case is failed, its remaining steps are
	// skipped to save execution time. The next case always runs.
	ContinueOnFailure bool
	// StepTimeout bounds each driver call independently. Zero disables it.
	StepTimeout time.Duration
}

// Logger mirrors the logbook surface the engine reports through.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Engine executes suites case by case.
type Engine struct {
	driver Driver
	opts   Options
	log    Logger
	clock  func() time.Time
}

// New wires an engine to a step driver.
func New(driver Driver, opts Options, log Logger) (*Engine, error) {
	if driver == nil {
		return nil, fmt.Errorf("executor: driver is required")
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Engine{driver: driver, opts: opts, log: log, clock: time.Now}, nil
}

// Execute runs every case in suite order and returns exactly one result per
// case. Cancellation skips the remaining cases' steps but still emits their
// results so the output stays parallel to the input.
func (e *Engine) Execute(ctx context.Context, suite testcase.TestSuite) []Result {
	results := make([]Result, 0, len(suite.TestCases))
	for _, tc := range suite.TestCases {
		results = append(results, e.executeCase(ctx, tc))
	}
	return results
}

func (e *Engine) executeCase(ctx context.Context, tc testcase.TestCase) Result {
	result := Result{
		TestCaseID:      tc.ID,
		Title:           tc.Title,
		Steps:           append([]string{}, tc.Steps...),
		ExpectedResults: append([]string{}, tc.ExpectedResults...),
		ExecutedAt:      e.clock(),
	}
	failed := false
	indeterminate := false
	canceled := false

	for i, step := range tc.Steps {
		trace := StepTrace{Index: i, Step: step}
		switch {
		case canceled:
			trace.Skipped = true
			trace.Detail = "run canceled"
		case failed && !e.opts.ContinueOnFailure:
			trace.Skipped = true
			trace.Detail = "case already failed"
		case ctx.Err() != nil:
			canceled = true
			trace.Skipped = true
			trace.Detail = "run canceled"
		default:
			report := e.performStep(ctx, tc, i, step)
			trace.Outcome = report.Outcome
			trace.Detail = report.Detail
			switch report.Outcome {
			case StepFailure:
				failed = true
				if result.ActualResult == "" {
					result.ActualResult = fmt.Sprintf("step %d failed: %s", i+1, report.Detail)
				}
			case StepIndeterminate:
				indeterminate = true
			}
		}
		result.StepTrace = append(result.StepTrace, trace)
	}

	switch {
	case failed:
		result.Status = StatusFailed
		e.log.Warn("case %s failed: %s", tc.ID, result.ActualResult)
	case indeterminate || canceled:
		result.Status = StatusWarning
		if result.ActualResult == "" {
			if canceled {
				result.ActualResult = "execution canceled before all steps ran"
			} else {
				result.ActualResult = "one or more steps were indeterminate"
			}
		}
	default:
		result.Status = StatusPassed
		result.ActualResult = "all steps succeeded"
	}
	return result
}

func (e *Engine) performStep(ctx context.Context, tc testcase.TestCase, index int, step string) StepReport {
	if e.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StepTimeout)
		defer cancel()
	}
	expected := ""
	if index < len(tc.ExpectedResults) {
		expected = tc.ExpectedResults[index]
	}
	report, err := e.driver.Perform(ctx, Instruction{
		CaseID:        tc.ID,
		CaseTitle:     tc.Title,
		Preconditions: tc.Preconditions,
		StepIndex:     index,
		Step:          step,
		Expected:      expected,
	})
	if err != nil {
		return StepReport{Outcome: StepFailure, Detail: err.Error()}
	}
	if report.Outcome == "" {
		report.Outcome = StepIndeterminate
	}
	return report
}

// Summary tallies execution results for reporting.
type Summary struct {
	Total   int
	Passed  int
	Failed  int
	Warning int
}

// Summarize counts statuses.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusWarning:
			s.Warning++
		}
	}
	return s
}
