package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/casewright/casewright/internal/testcase"
)

// scriptedClient replays canned completion replies in order and records
// every request it saw.
type scriptedClient struct {
	mu       sync.Mutex
	steps    []scriptedStep
	requests []CompletionRequest
}

type scriptedStep struct {
	reply string
	err   error
}

func (c *scriptedClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return "", errors.New("scripted client: no steps left")
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	return step.reply, step.err
}

func newInvoker(t *testing.T, client Client) *Invoker {
	t.Helper()
	prompts, err := LoadPromptSet(ProfileFunctional, "")
	if err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	inv, err := NewInvoker(client, prompts, nil, nil)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	return inv
}

const validAnalysis = `{"functional_requirements":["users can log in"],"test_scenarios":["valid login"]}`

func TestInvokeAcceptsFencedJSON(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{reply: "```json\n" + validAnalysis + "\n```"},
	}}
	inv := newInvoker(t, client)
	result, err := inv.Analyze(context.Background(), "Users can log in.")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(result.FunctionalRequirements) != 1 {
		t.Fatalf("requirements = %+v", result.FunctionalRequirements)
	}
	if len(client.requests) != 1 {
		t.Fatalf("client called %d time(s), want 1", len(client.requests))
	}
}

func TestInvokeRepromptsOnceOnInvalidOutput(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{reply: "sorry, here is some prose instead of JSON"},
		{reply: validAnalysis},
	}}
	inv := newInvoker(t, client)
	if _, err := inv.Analyze(context.Background(), "Users can log in."); err != nil {
		t.Fatalf("analyze after re-prompt: %v", err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("client called %d time(s), want 2", len(client.requests))
	}
	second := client.requests[1].Prompt
	if !strings.Contains(second, "rejected") || !strings.Contains(second, SchemaAnalysis) {
		t.Fatalf("corrective prompt missing rejection notice: %q", second)
	}
}

func TestInvokeReturnsSchemaErrorAfterSecondFailure(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{reply: "not json"},
		{reply: `{"functional_requirements":[]}`},
	}}
	inv := newInvoker(t, client)
	_, err := inv.Analyze(context.Background(), "Users can log in.")
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want *SchemaError", err)
	}
	if schemaErr.Role != RoleAnalyst || schemaErr.Schema != SchemaAnalysis {
		t.Fatalf("schema error = %+v", schemaErr)
	}
	if len(client.requests) != 2 {
		t.Fatalf("client called %d time(s), want exactly 2", len(client.requests))
	}
}

func TestInvokeWrapsClientFailure(t *testing.T) {
	cause := errors.New("connection reset")
	client := &scriptedClient{steps: []scriptedStep{{err: cause}}}
	inv := newInvoker(t, client)
	_, err := inv.Analyze(context.Background(), "Users can log in.")
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("err = %v, want *InvocationError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestDraftCasesCarriesReviewFeedback(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{reply: `{"test_cases":[{"id":"tc1","title":"login","steps":["s"],"expected_results":["r"],"priority":"P1","category":"functional"}]}`},
	}}
	inv := newInvoker(t, client)
	feedback := ReviewFeedback{
		Issues:            []ReviewIssue{{Severity: SeverityBlocking, Message: "steps too vague"}},
		RevisionDirective: "spell out the login steps",
	}
	design := TestDesign{Scenarios: []ScenarioDesc{{Feature: "login", TestType: "functional"}}}
	if _, err := inv.DraftCases(context.Background(), design, &feedback); err != nil {
		t.Fatalf("draft: %v", err)
	}
	prompt := client.requests[0].Prompt
	if !strings.Contains(prompt, "steps too vague") {
		t.Fatalf("prompt missing feedback: %q", prompt)
	}
}

func TestUnfenceJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":        `{"a":1}`,
		"```\n{\"a\":1}\n```":            `{"a":1}`,
		"Here you go:\n```json\n{}\n```": `{}`,
		`{"a":1}`:                        `{"a":1}`,
	}
	for in, want := range cases {
		if got := UnfenceJSON(in); got != want {
			t.Fatalf("UnfenceJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDraftRepairsLooseCases(t *testing.T) {
	cases := []testcase.TestCase{
		{
			ID:              "tc1",
			Title:           "login works",
			Steps:           []string{"open page", "submit form"},
			ExpectedResults: []string{"page shown"},
			Priority:        "2",
		},
		{
			ID:       "tc2",
			Title:    "broken case with no steps",
			Priority: "P1",
			Category: "functional",
		},
	}
	kept, dropped := NormalizeDraft(cases, "functional")
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if len(kept) != 1 {
		t.Fatalf("kept = %d, want 1", len(kept))
	}
	got := kept[0]
	if got.Priority != testcase.PriorityP2 {
		t.Fatalf("priority = %q, want P2", got.Priority)
	}
	if got.Category != "functional" {
		t.Fatalf("category = %q, want defaulted functional", got.Category)
	}
	if len(got.ExpectedResults) != 2 || got.ExpectedResults[1] != "to be specified" {
		t.Fatalf("expected results not padded: %v", got.ExpectedResults)
	}
	// The draft slice itself must be untouched.
	if len(cases[0].ExpectedResults) != 1 {
		t.Fatalf("normalization mutated the input draft: %v", cases[0].ExpectedResults)
	}
}

func TestDraftCoercesScalarListsFromWriterOutput(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{reply: `{"test_cases":[{"id":"tc1","title":"login","preconditions":"account exists","steps":"open page","expected_results":"form shown","priority":"P1","category":"functional"}]}`},
	}}
	inv := newInvoker(t, client)
	design := TestDesign{Scenarios: []ScenarioDesc{{Feature: "login", TestType: "functional"}}}
	draft, err := inv.DraftCases(context.Background(), design, nil)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	tc := draft.TestCases[0]
	if len(tc.Steps) != 1 || tc.Steps[0] != "open page" {
		t.Fatalf("steps = %v", tc.Steps)
	}
	if len(tc.Preconditions) != 1 || len(tc.ExpectedResults) != 1 {
		t.Fatalf("scalars not coerced: %+v", tc)
	}
}

func TestNormalizeDraftTruncatesExtraExpectations(t *testing.T) {
	kept, dropped := NormalizeDraft([]testcase.TestCase{{
		ID:              "tc1",
		Title:           "one step",
		Steps:           []string{"only step"},
		ExpectedResults: []string{"first", "orphan"},
		Priority:        "P0",
		Category:        "functional",
	}}, "functional")
	if dropped != 0 || len(kept) != 1 {
		t.Fatalf("kept=%d dropped=%d, want 1/0", len(kept), dropped)
	}
	if len(kept[0].ExpectedResults) != 1 || kept[0].ExpectedResults[0] != "first" {
		t.Fatalf("expected results = %v", kept[0].ExpectedResults)
	}
}
