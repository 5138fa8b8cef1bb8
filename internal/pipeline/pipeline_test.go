package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casewright/casewright/internal/agent"
	"github.com/casewright/casewright/internal/document"
	"github.com/casewright/casewright/internal/testcase"
)

const (
	analysisReply = `{"functional_requirements":["users can log in"]}`
	designReply   = `{"scenarios":[{"feature":"login","test_type":"functional","priority":"P1"}]}`
	draftReply    = `{"test_cases":[{"id":"tc1","title":"login works","steps":["open page","submit form"],"expected_results":["page shown","dashboard shown"],"priority":"P1","category":"functional"}]}`
	approveReply  = `{"issues":[]}`
	blockReply    = `{"issues":[{"severity":"blocking","message":"steps too vague"}]}`
)

// roleScriptClient replays per-role reply queues. The last reply in a queue
// is sticky so loops can keep drawing from it.
type roleScriptClient struct {
	mu      sync.Mutex
	replies map[agent.Role][]string
	errs    map[agent.Role]error
	calls   map[agent.Role]int
}

func (c *roleScriptClient) Complete(_ context.Context, req agent.CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[agent.Role]int{}
	}
	c.calls[req.Role]++
	if err := c.errs[req.Role]; err != nil {
		return "", err
	}
	queue := c.replies[req.Role]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted reply for role %s", req.Role)
	}
	reply := queue[0]
	if len(queue) > 1 {
		c.replies[req.Role] = queue[1:]
	}
	return reply, nil
}

func newPipeline(t *testing.T, client agent.Client, maxIterations int) *Pipeline {
	t.Helper()
	prompts, err := agent.LoadPromptSet(agent.ProfileFunctional, "")
	if err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	invoker, err := agent.NewInvoker(client, prompts, nil, nil)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	pipe, err := New(invoker, agent.ProfileFunctional, maxIterations, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipe
}

func chunkFixture(index int) document.Chunk {
	return document.Chunk{DocumentID: "login.md", Index: index, Text: fmt.Sprintf("REQ-%d users can log in", index)}
}

func TestRunCleanApprovalFirstPass(t *testing.T) {
	client := &roleScriptClient{replies: map[agent.Role][]string{
		agent.RoleAnalyst:  {analysisReply},
		agent.RoleDesigner: {designReply},
		agent.RoleWriter:   {draftReply},
		agent.RoleQA:       {approveReply},
	}}
	pipe := newPipeline(t, client, 3)

	var states []State
	outcome := pipe.Run(context.Background(), chunkFixture(0), func(s State) { states = append(states, s) })
	if outcome.State != StateFinal {
		t.Fatalf("state = %s, want final: %v", outcome.State, outcome.Err)
	}
	if outcome.WriterPasses != 1 {
		t.Fatalf("writer passes = %d, want 1", outcome.WriterPasses)
	}
	if len(outcome.Cases) != 1 || outcome.Cases[0].ID != "tc1" {
		t.Fatalf("cases = %+v", outcome.Cases)
	}
	want := []State{StateIngested, StateAnalyzed, StateDesigned, StateDrafted, StateReviewed, StateApproved, StateFinal}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestRunRevisesOnceThenApproves(t *testing.T) {
	client := &roleScriptClient{replies: map[agent.Role][]string{
		agent.RoleAnalyst:  {analysisReply},
		agent.RoleDesigner: {designReply},
		agent.RoleWriter:   {draftReply},
		agent.RoleQA:       {blockReply, approveReply},
	}}
	pipe := newPipeline(t, client, 3)

	outcome := pipe.Run(context.Background(), chunkFixture(0), nil)
	if outcome.State != StateFinal {
		t.Fatalf("state = %s: %v", outcome.State, outcome.Err)
	}
	if outcome.WriterPasses != 2 {
		t.Fatalf("writer passes = %d, want 2", outcome.WriterPasses)
	}
	if outcome.HasWarning(WarningReviewLoopExceeded) {
		t.Fatal("unexpected review-loop warning")
	}
}

func TestRunEmitsLastDraftWhenReviewLoopExceeded(t *testing.T) {
	client := &roleScriptClient{replies: map[agent.Role][]string{
		agent.RoleAnalyst:  {analysisReply},
		agent.RoleDesigner: {designReply},
		agent.RoleWriter:   {draftReply},
		agent.RoleQA:       {blockReply},
	}}
	pipe := newPipeline(t, client, 2)

	outcome := pipe.Run(context.Background(), chunkFixture(0), nil)
	if outcome.State != StateFinal {
		t.Fatalf("state = %s: %v", outcome.State, outcome.Err)
	}
	// Initial draft plus two revisions, never more.
	if outcome.WriterPasses != 3 {
		t.Fatalf("writer passes = %d, want 3", outcome.WriterPasses)
	}
	if !outcome.HasWarning(WarningReviewLoopExceeded) {
		t.Fatalf("warnings = %v, want review-loop-exceeded", outcome.Warnings)
	}
	if len(outcome.Cases) != 1 {
		t.Fatalf("last draft dropped: %+v", outcome.Cases)
	}
}

func TestRunAnnotatesFailureWithLocator(t *testing.T) {
	client := &roleScriptClient{
		replies: map[agent.Role][]string{},
		errs:    map[agent.Role]error{agent.RoleAnalyst: errors.New("service down")},
	}
	pipe := newPipeline(t, client, 3)

	outcome := pipe.Run(context.Background(), chunkFixture(4), nil)
	if outcome.State != StateFailed {
		t.Fatalf("state = %s, want failed", outcome.State)
	}
	if outcome.Err == nil || !strings.Contains(outcome.Err.Error(), "login.md#chunk4") {
		t.Fatalf("err = %v, want chunk locator", outcome.Err)
	}
	var invErr *agent.InvocationError
	if !errors.As(outcome.Err, &invErr) {
		t.Fatalf("err = %v, want *agent.InvocationError in chain", outcome.Err)
	}
	if len(outcome.Cases) != 0 {
		t.Fatalf("failed unit leaked cases: %+v", outcome.Cases)
	}
}

func TestRunHonorsCancellationAtTransition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &roleScriptClient{replies: map[agent.Role][]string{
		agent.RoleAnalyst:  {analysisReply},
		agent.RoleDesigner: {designReply},
		agent.RoleWriter:   {draftReply},
		agent.RoleQA:       {approveReply},
	}}
	pipe := newPipeline(t, client, 3)

	canceledAfterAnalysis := func(s State) {
		if s == StateAnalyzed {
			cancel()
		}
	}
	outcome := pipe.Run(ctx, chunkFixture(0), canceledAfterAnalysis)
	if outcome.State != StateCanceled {
		t.Fatalf("state = %s, want canceled", outcome.State)
	}
	if !errors.Is(outcome.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", outcome.Err)
	}
}

// markerClient derives every reply from the REQ-<n> marker in the prompt so
// each chunk produces a distinguishable case, and sleeps longer for earlier
// chunks so completion order is the reverse of input order.
type markerClient struct {
	pattern *regexp.Regexp
	chunks  int
}

func newMarkerClient(chunks int) *markerClient {
	return &markerClient{pattern: regexp.MustCompile(`REQ-(\d+)`), chunks: chunks}
}

func (c *markerClient) Complete(_ context.Context, req agent.CompletionRequest) (string, error) {
	match := c.pattern.FindStringSubmatch(req.Prompt)
	if match == nil {
		return "", fmt.Errorf("no REQ marker in %s prompt", req.Role)
	}
	marker := match[0]
	var n int
	fmt.Sscanf(match[1], "%d", &n)
	time.Sleep(time.Duration(c.chunks-n) * 3 * time.Millisecond)
	switch req.Role {
	case agent.RoleAnalyst:
		return fmt.Sprintf(`{"functional_requirements":["%s users can log in"]}`, marker), nil
	case agent.RoleDesigner:
		return fmt.Sprintf(`{"scenarios":[{"feature":"%s login","test_type":"functional","priority":"P1"}]}`, marker), nil
	case agent.RoleWriter:
		return fmt.Sprintf(`{"test_cases":[{"id":"tc-%s","title":"%s login works","steps":["open page"],"expected_results":["page shown"],"priority":"P1","category":"functional"}]}`, marker, marker), nil
	case agent.RoleQA:
		return approveReply, nil
	default:
		return "", fmt.Errorf("unknown role %s", req.Role)
	}
}

func TestRunnerOutputOrderMatchesInputOrder(t *testing.T) {
	const chunks = 4
	pipe := newPipeline(t, newMarkerClient(chunks), 1)
	runner := NewRunner(pipe, chunks, nil)

	var input []document.Chunk
	for i := 0; i < chunks; i++ {
		input = append(input, chunkFixture(i))
	}
	outcomes := runner.Run(context.Background(), input)
	if len(outcomes) != chunks {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), chunks)
	}
	for i, outcome := range outcomes {
		if outcome.State != StateFinal {
			t.Fatalf("outcome %d state = %s: %v", i, outcome.State, outcome.Err)
		}
		wantID := fmt.Sprintf("tc-REQ-%d", i)
		if outcome.Cases[0].ID != wantID {
			t.Fatalf("outcome %d case id = %s, want %s", i, outcome.Cases[0].ID, wantID)
		}
	}

	suite := testcase.Aggregate(Collect(outcomes), testcase.AggregateOptions{})
	for i, tc := range suite.TestCases {
		wantID := fmt.Sprintf("tc-REQ-%d", i)
		if tc.ID != wantID {
			t.Fatalf("aggregated case %d = %s, want %s", i, tc.ID, wantID)
		}
	}
}

func TestRunnerIsolatesUnitFailures(t *testing.T) {
	// Chunk 1 carries no REQ marker, so every invocation for it fails.
	pipe := newPipeline(t, newMarkerClient(2), 1)
	runner := NewRunner(pipe, 2, nil)

	input := []document.Chunk{
		chunkFixture(0),
		{DocumentID: "login.md", Index: 1, Text: "unmarked requirement"},
	}
	outcomes := runner.Run(context.Background(), input)
	if outcomes[0].State != StateFinal {
		t.Fatalf("healthy unit state = %s: %v", outcomes[0].State, outcomes[0].Err)
	}
	if outcomes[1].State != StateFailed {
		t.Fatalf("broken unit state = %s, want failed", outcomes[1].State)
	}

	summary := Summarize(outcomes)
	if summary.Succeeded != 1 || summary.Failed != 1 || summary.Cases != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if results := Collect(outcomes); len(results) != 1 {
		t.Fatalf("collect included failed unit: %+v", results)
	}
}

func TestRunnerSkipsDispatchAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pipe := newPipeline(t, newMarkerClient(2), 1)
	runner := NewRunner(pipe, 1, nil)

	outcomes := runner.Run(ctx, []document.Chunk{chunkFixture(0), chunkFixture(1)})
	for i, outcome := range outcomes {
		if outcome.State != StateCanceled {
			t.Fatalf("outcome %d state = %s, want canceled", i, outcome.State)
		}
	}
	if summary := Summarize(outcomes); summary.Canceled != 2 {
		t.Fatalf("summary = %+v", summary)
	}
}
