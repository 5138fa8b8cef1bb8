// cmd/casewright/main.go
//
// This is the entry point for the casewright CLI.
//
// Flow:
// 1. Parse flags and load configuration (.casewright/config.yaml + env)
// 2. Generation mode: chunk the requirements document, run each chunk
//    through the analyst/designer/writer/qa pipeline, merge and export
// 3. Execution mode (-t ui_auto): load a generated suite and drive each
//    case against the live target through the step driver
//
// Exit codes: 0 success, 1 total failure, 2 configuration error,
// 3 partial failure (some units or cases failed).

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/casewright/casewright/internal/agent"
	"github.com/casewright/casewright/internal/config"
	"github.com/casewright/casewright/internal/document"
	"github.com/casewright/casewright/internal/executor"
	"github.com/casewright/casewright/internal/export"
	"github.com/casewright/casewright/internal/logbook"
	"github.com/casewright/casewright/internal/pipeline"
	"github.com/casewright/casewright/internal/testcase"
	"github.com/casewright/casewright/internal/tui"
)

const (
	exitOK             = 0
	exitTotalFailure   = 1
	exitConfigError    = 2
	exitPartialFailure = 3
)

type options struct {
	docPath           string
	inputPath         string
	outputPath        string
	concurrency       int
	testType          string
	watch             bool
	dedupe            bool
	continueOnFailure bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.docPath, "d", "", "requirements document to generate cases from (.txt or .md)")
	flag.StringVar(&opts.docPath, "doc", "", "requirements document to generate cases from (.txt or .md)")
	flag.StringVar(&opts.inputPath, "i", "", "existing test suite JSON (required for -t ui_auto)")
	flag.StringVar(&opts.inputPath, "input", "", "existing test suite JSON (required for -t ui_auto)")
	flag.StringVar(&opts.outputPath, "o", "test_cases.csv", "output file (.csv or .json)")
	flag.StringVar(&opts.outputPath, "output", "test_cases.csv", "output file (.csv or .json)")
	flag.IntVar(&opts.concurrency, "c", 0, "chunks processed in parallel (0 uses the configured value)")
	flag.IntVar(&opts.concurrency, "concurrency", 0, "chunks processed in parallel (0 uses the configured value)")
	flag.StringVar(&opts.testType, "t", "functional", "run type: functional, api or ui_auto")
	flag.StringVar(&opts.testType, "type", "functional", "run type: functional, api or ui_auto")
	flag.BoolVar(&opts.watch, "watch", false, "show live per-chunk progress")
	flag.BoolVar(&opts.dedupe, "dedupe", false, "drop duplicate cases when merging chunk results")
	flag.BoolVar(&opts.continueOnFailure, "continue-on-failure", false, "keep executing a case's remaining steps after one fails")
	flag.Parse()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error determining working directory: %v\n", err)
		return exitTotalFailure
	}
	if err := config.InitCasewrightDir(cwd); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing %s directory: %v\n", config.CasewrightDir, err)
		return exitTotalFailure
	}

	cfg, err := config.NewConfig(cwd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	book, err := logbook.New(cfg.LogbookPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening logbook: %v\n", err)
		return exitTotalFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch strings.ToLower(strings.TrimSpace(opts.testType)) {
	case "functional":
		return generate(ctx, stop, cfg, book, opts, agent.ProfileFunctional)
	case "api":
		return generate(ctx, stop, cfg, book, opts, agent.ProfileAPI)
	case "ui_auto":
		return execute(ctx, cfg, book, opts)
	default:
		fmt.Fprintf(os.Stderr, "unknown run type %q: want functional, api or ui_auto\n", opts.testType)
		return exitConfigError
	}
}

// generate runs the multi-agent pipeline over a requirements document and
// exports the merged suite.
func generate(ctx context.Context, cancel func(), cfg *config.Config, book *logbook.Logbook, opts options, profile agent.Profile) int {
	if strings.TrimSpace(opts.docPath) == "" {
		fmt.Fprintln(os.Stderr, "a requirements document is required: -d <path>")
		return exitConfigError
	}

	chunks, err := document.Read(opts.docPath, document.ChunkOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		book.Error("read document %s: %v", opts.docPath, err)
		var parseErr *document.ParseError
		if errors.As(err, &parseErr) {
			return exitConfigError
		}
		return exitTotalFailure
	}
	if len(chunks) == 0 {
		fmt.Fprintf(os.Stderr, "document %s contains no requirements text\n", opts.docPath)
		return exitTotalFailure
	}

	runID := uuid.NewString()
	book.Info("run %s: %d chunk(s) from %s, profile %s", runID, len(chunks), opts.docPath, profile)

	prompts, err := agent.LoadPromptSet(profile, cfg.Project.TemplatesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	journal, err := agent.NewJournal(filepath.Join(cfg.StateDir(), runID))
	if err != nil {
		book.Warn("run %s: journal unavailable: %v", runID, err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	settings := map[agent.Role]agent.Settings{}
	for _, role := range agent.Roles {
		ac := cfg.Agent(string(role))
		settings[role] = agent.Settings{
			Model:       ac.Model,
			Temperature: ac.Temperature,
			Timeout:     ac.Timeout(),
		}
	}

	invoker, err := agent.NewInvoker(client, prompts, settings, journal)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	pipe, err := pipeline.New(invoker, profile, cfg.Project.MaxIterations, book)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = cfg.Project.Concurrency
	}

	var events chan pipeline.Event
	var observer func(pipeline.Event)
	if opts.watch {
		events = make(chan pipeline.Event, 256)
		observer = func(ev pipeline.Event) {
			select {
			case events <- ev:
			default:
			}
		}
	}

	runner := pipeline.NewRunner(pipe, concurrency, observer)

	var outcomes []pipeline.Outcome
	if opts.watch {
		done := make(chan struct{})
		go func() {
			outcomes = runner.Run(ctx, chunks)
			close(events)
			close(done)
		}()
		if err := tui.Watch(events, cancel); err != nil {
			book.Warn("run %s: watch display failed: %v", runID, err)
		}
		<-done
	} else {
		outcomes = runner.Run(ctx, chunks)
	}

	summary := pipeline.Summarize(outcomes)
	book.Info("run %s: %d/%d unit(s) succeeded, %d failed, %d canceled, %d warning(s)",
		runID, summary.Succeeded, summary.Units, summary.Failed, summary.Canceled, summary.Warnings)
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			fmt.Fprintln(os.Stderr, outcome.Err)
		}
	}

	if summary.Succeeded == 0 {
		fmt.Fprintln(os.Stderr, "no unit produced test cases")
		return exitTotalFailure
	}

	dedupe := opts.dedupe || cfg.Project.Dedupe
	suite := testcase.Aggregate(pipeline.Collect(outcomes), testcase.AggregateOptions{Dedupe: dedupe})
	if errs := suite.Validate(); len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, err)
		}
		book.Error("run %s: merged suite invalid", runID)
		return exitTotalFailure
	}

	if err := export.WriteSuite(opts.outputPath, suite); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTotalFailure
	}

	fmt.Printf("wrote %d test case(s) to %s\n", len(suite.TestCases), opts.outputPath)
	if summary.Failed > 0 || summary.Canceled > 0 {
		return exitPartialFailure
	}
	return exitOK
}

// execute loads a previously generated suite and drives it against the live
// target.
func execute(ctx context.Context, cfg *config.Config, book *logbook.Logbook, opts options) int {
	if strings.TrimSpace(opts.inputPath) == "" {
		fmt.Fprintln(os.Stderr, "a test suite is required for execution: -i <suite.json>")
		return exitConfigError
	}

	suite, err := testcase.LoadSuite(opts.inputPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTotalFailure
	}
	if len(suite.TestCases) == 0 {
		fmt.Fprintf(os.Stderr, "suite %s contains no test cases\n", opts.inputPath)
		return exitTotalFailure
	}

	client, err := buildClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	operator := cfg.Agent("writer")
	driver, err := executor.NewCompletionDriver(client, operator.Model, operator.Temperature)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	engine, err := executor.New(driver, executor.Options{
		ContinueOnFailure: opts.continueOnFailure,
		StepTimeout:       operator.Timeout(),
	}, book)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	runID := uuid.NewString()
	book.Info("run %s: executing %d case(s) from %s", runID, len(suite.TestCases), opts.inputPath)

	results := engine.Execute(ctx, suite)
	summary := executor.Summarize(results)
	book.Info("run %s: %d passed, %d failed, %d warning(s)", runID, summary.Passed, summary.Failed, summary.Warning)

	output := opts.outputPath
	if output == "" || output == "test_cases.csv" {
		output = "test_results.csv"
	}
	if err := export.WriteResultsCSV(output, results); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTotalFailure
	}

	fmt.Printf("executed %d case(s): %d passed, %d failed, %d warning(s); results in %s\n",
		summary.Total, summary.Passed, summary.Failed, summary.Warning, output)
	switch {
	case summary.Passed == 0 && summary.Failed > 0:
		return exitTotalFailure
	case summary.Failed > 0 || summary.Warning > 0:
		return exitPartialFailure
	default:
		return exitOK
	}
}

// buildClient assembles the completion client stack: transport, retries,
// then the shared call-rate budget.
func buildClient(cfg *config.Config) (agent.Client, error) {
	base, err := agent.NewOpenAIClient(agent.OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	client := agent.WithRetry(base, agent.RetryConfig{
		MaxAttempts: cfg.Project.Retry.MaxAttempts,
		BaseDelay:   cfg.Project.Retry.BaseDelay(),
		ShouldRetry: agent.RetryableError,
	})
	return agent.WithBudget(client, agent.NewBudget(cfg.Project.RateLimit)), nil
}
