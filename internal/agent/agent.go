// Package agent implements the role contract the pipeline is built on:
// four specialized capabilities (analyst, designer, writer, qa) behind one
// invocation path, with schema-validated structured output. Role prompts and
// schemas are configuration data; the orchestrator never branches on role
// internals.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaError reports structured output that failed validation twice: once
// on the initial response and once after the corrective re-prompt. It is
// terminal for the unit; the orchestrator never coerces malformed output.
type SchemaError struct {
	Role   Role
	Schema string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("agent %s: output failed %s validation: %v", e.Role, e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Invocation is the uniform message the orchestrator sends a role.
type Invocation struct {
	Role           Role
	Content        string
	Context        []string
	ExpectedSchema string
}

// Response is the validated structured reply for an invocation.
type Response struct {
	Result        json.RawMessage
	SchemaVersion string
}

// Settings configures one role's completion calls.
type Settings struct {
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Invoker drives role invocations against a completion client, enforcing the
// communication schema: one corrective re-prompt on invalid output, then
// failure.
type Invoker struct {
	client   Client
	prompts  *PromptSet
	settings map[Role]Settings
	journal  *Journal
}

// NewInvoker wires an invoker. The journal is optional.
func NewInvoker(client Client, prompts *PromptSet, settings map[Role]Settings, journal *Journal) (*Invoker, error) {
	if client == nil {
		return nil, fmt.Errorf("agent: client is required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("agent: prompt set is required")
	}
	return &Invoker{
		client:   client,
		prompts:  prompts,
		settings: settings,
		journal:  journal,
	}, nil
}

// Invoke sends one invocation and validates the reply against the role's
// schema. Invalid output earns exactly one re-prompt carrying the validation
// error; a second failure returns a SchemaError.
func (inv *Invoker) Invoke(ctx context.Context, msg Invocation) (Response, error) {
	raw, err := inv.complete(ctx, msg)
	if err != nil {
		return Response{}, err
	}
	result, validationErr := inv.validate(msg.Role, raw)
	if validationErr == nil {
		return inv.publish(msg, result)
	}

	corrective := msg
	corrective.Context = append(append([]string{}, msg.Context...),
		fmt.Sprintf("Your previous reply was rejected: %v. Reply again with only valid JSON matching the %s schema.", validationErr, msg.ExpectedSchema))
	raw, err = inv.complete(ctx, corrective)
	if err != nil {
		return Response{}, err
	}
	result, validationErr = inv.validate(msg.Role, raw)
	if validationErr != nil {
		return Response{}, &SchemaError{Role: msg.Role, Schema: msg.ExpectedSchema, Err: validationErr}
	}
	return inv.publish(msg, result)
}

func (inv *Invoker) publish(msg Invocation, result json.RawMessage) (Response, error) {
	if inv.journal != nil {
		inv.journal.Save(string(msg.Role), result)
	}
	return Response{Result: result, SchemaVersion: msg.ExpectedSchema}, nil
}

func (inv *Invoker) complete(ctx context.Context, msg Invocation) (string, error) {
	settings := inv.settings[msg.Role]
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}
	req := CompletionRequest{
		Role:         msg.Role,
		SystemPrompt: inv.prompts.System(msg.Role),
		Prompt:       renderPrompt(msg),
		Model:        settings.Model,
		Temperature:  settings.Temperature,
	}
	reply, err := inv.client.Complete(ctx, req)
	if err != nil {
		return "", &InvocationError{Role: msg.Role, Attempts: 1, Err: err}
	}
	return reply, nil
}

// validate decodes the raw reply into the role's result type and runs its
// contract check, returning the canonical JSON on success.
func (inv *Invoker) validate(role Role, reply string) (json.RawMessage, error) {
	payload := UnfenceJSON(reply)
	switch role {
	case RoleAnalyst:
		return decodeAndCheck[AnalysisResult](payload)
	case RoleDesigner:
		return decodeAndCheck[TestDesign](payload)
	case RoleWriter:
		return decodeAndCheck[Draft](payload)
	case RoleQA:
		return decodeAndCheck[ReviewFeedback](payload)
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

type validatable interface {
	Validate() error
}

func decodeAndCheck[T validatable](payload string) (json.RawMessage, error) {
	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	canonical, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return canonical, nil
}

func renderPrompt(msg Invocation) string {
	if len(msg.Context) == 0 {
		return msg.Content
	}
	var b strings.Builder
	b.WriteString(msg.Content)
	for _, block := range msg.Context {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	return b.String()
}

// UnfenceJSON strips markdown code fences some models wrap JSON replies in.
func UnfenceJSON(reply string) string {
	text := strings.TrimSpace(reply)
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// Analyze invokes the analyst role on a requirement chunk.
func (inv *Invoker) Analyze(ctx context.Context, chunkText string) (AnalysisResult, error) {
	resp, err := inv.Invoke(ctx, Invocation{
		Role:           RoleAnalyst,
		Content:        inv.prompts.AnalystPrompt(chunkText),
		ExpectedSchema: SchemaAnalysis,
	})
	if err != nil {
		return AnalysisResult{}, err
	}
	var result AnalysisResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return AnalysisResult{}, err
	}
	return result, nil
}

// Design invokes the designer role on an analysis result.
func (inv *Invoker) Design(ctx context.Context, analysis AnalysisResult) (TestDesign, error) {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return TestDesign{}, err
	}
	resp, err := inv.Invoke(ctx, Invocation{
		Role:           RoleDesigner,
		Content:        inv.prompts.DesignerPrompt(string(payload)),
		ExpectedSchema: SchemaDesign,
	})
	if err != nil {
		return TestDesign{}, err
	}
	var design TestDesign
	if err := json.Unmarshal(resp.Result, &design); err != nil {
		return TestDesign{}, err
	}
	return design, nil
}

// DraftCases invokes the writer role on a design. When feedback is non-nil
// the previous feedback is appended to the invocation context so the writer
// revises rather than starts over.
func (inv *Invoker) DraftCases(ctx context.Context, design TestDesign, feedback *ReviewFeedback) (Draft, error) {
	payload, err := json.Marshal(design)
	if err != nil {
		return Draft{}, err
	}
	msg := Invocation{
		Role:           RoleWriter,
		Content:        inv.prompts.WriterPrompt(string(payload)),
		ExpectedSchema: SchemaDraft,
	}
	if feedback != nil {
		fb, err := json.Marshal(feedback)
		if err != nil {
			return Draft{}, err
		}
		msg.Context = append(msg.Context, "Reviewer feedback on your previous draft, address every blocking issue:\n"+string(fb))
	}
	resp, err := inv.Invoke(ctx, msg)
	if err != nil {
		return Draft{}, err
	}
	var draft Draft
	if err := json.Unmarshal(resp.Result, &draft); err != nil {
		return Draft{}, err
	}
	return draft, nil
}

// Review invokes the qa role on a draft case list.
func (inv *Invoker) Review(ctx context.Context, draft Draft) (ReviewFeedback, error) {
	payload, err := json.Marshal(draft)
	if err != nil {
		return ReviewFeedback{}, err
	}
	resp, err := inv.Invoke(ctx, Invocation{
		Role:           RoleQA,
		Content:        inv.prompts.ReviewerPrompt(string(payload)),
		ExpectedSchema: SchemaReview,
	})
	if err != nil {
		return ReviewFeedback{}, err
	}
	var feedback ReviewFeedback
	if err := json.Unmarshal(resp.Result, &feedback); err != nil {
		return ReviewFeedback{}, err
	}
	return feedback, nil
}
