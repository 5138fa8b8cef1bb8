package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/casewright/casewright/internal/agent"
)

// CompletionDriver performs steps by instructing a completion-backed
// automation agent and reading back its verdict. The reply is expected to be
// a JSON object with "outcome" and "detail"; anything unreadable counts as
// indeterminate rather than a hard failure.
type CompletionDriver struct {
	client      agent.Client
	model       string
	temperature float64
}

var _ Driver = (*CompletionDriver)(nil)

// NewCompletionDriver wires a driver over the shared completion client.
func NewCompletionDriver(client agent.Client, model string, temperature float64) (*CompletionDriver, error) {
	if client == nil {
		return nil, fmt.Errorf("executor: completion client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("executor: model is required")
	}
	return &CompletionDriver{client: client, model: model, temperature: temperature}, nil
}

const driverSystemPrompt = `You are a test automation operator. You are given one test step
with its expected result. Perform the step against the target application
and report what happened.

Reply with a single JSON object, no prose:
{"outcome": "success" | "failure" | "indeterminate", "detail": "<what you observed>"}

Use "success" only when the observed behavior matches the expected result,
"failure" when it clearly does not, and "indeterminate" when you could not
tell.`

type driverVerdict struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail"`
}

// Perform executes one instruction and maps the agent's verdict onto a step
// report.
func (d *CompletionDriver) Perform(ctx context.Context, in Instruction) (StepReport, error) {
	reply, err := d.client.Complete(ctx, agent.CompletionRequest{
		SystemPrompt: driverSystemPrompt,
		Prompt:       in.Prompt(),
		Model:        d.model,
		Temperature:  d.temperature,
	})
	if err != nil {
		return StepReport{}, err
	}

	var verdict driverVerdict
	if err := json.Unmarshal([]byte(agent.UnfenceJSON(reply)), &verdict); err != nil {
		return StepReport{
			Outcome: StepIndeterminate,
			Detail:  fmt.Sprintf("unreadable operator reply: %s", firstLine(reply)),
		}, nil
	}

	switch strings.ToLower(strings.TrimSpace(verdict.Outcome)) {
	case "success":
		return StepReport{Outcome: StepSuccess, Detail: verdict.Detail}, nil
	case "failure":
		return StepReport{Outcome: StepFailure, Detail: verdict.Detail}, nil
	default:
		return StepReport{Outcome: StepIndeterminate, Detail: verdict.Detail}, nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
