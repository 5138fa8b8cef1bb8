package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Schema version tags carried in every invocation and response.
const (
	SchemaAnalysis = "analysis/v1"
	SchemaDesign   = "design/v1"
	SchemaDraft    = "draft/v1"
	SchemaReview   = "review/v1"
)

// Profile selects which prompt family the pipeline uses.
type Profile string

const (
	ProfileFunctional Profile = "functional"
	ProfileAPI        Profile = "api"
)

// DefaultCategory is the case category a profile falls back to when the
// writer leaves one blank.
func (p Profile) DefaultCategory() string {
	if p == ProfileAPI {
		return "api"
	}
	return "functional"
}

// PromptSet holds the per-role system prompts for one profile. Task prompt
// construction lives here too so the orchestrator stays role-agnostic.
type PromptSet struct {
	profile Profile
	system  map[Role]string
}

// LoadPromptSet builds the prompt set for a profile. When templatesDir is
// non-empty, a file named <profile>_<role>.txt overrides the built-in system
// prompt for that role.
func LoadPromptSet(profile Profile, templatesDir string) (*PromptSet, error) {
	switch profile {
	case ProfileFunctional, ProfileAPI:
	default:
		return nil, fmt.Errorf("agent: unknown profile %q", profile)
	}
	set := &PromptSet{profile: profile, system: map[Role]string{}}
	for _, role := range Roles {
		set.system[role] = builtinSystemPrompt(profile, role)
		if templatesDir == "" {
			continue
		}
		path := filepath.Join(templatesDir, fmt.Sprintf("%s_%s.txt", profile, role))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("agent: read template %s: %w", path, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			set.system[role] = text
		}
	}
	return set, nil
}

// System returns the system prompt configured for a role.
func (ps *PromptSet) System(role Role) string {
	return ps.system[role]
}

// AnalystPrompt renders the analyst's task for one requirement chunk.
func (ps *PromptSet) AnalystPrompt(chunkText string) string {
	var b strings.Builder
	b.WriteString("Analyze the following requirement text and extract the key test points.\n")
	b.WriteString("Reply with only valid JSON, no markdown fences, matching this shape:\n")
	b.WriteString(`{"functional_requirements":["..."],"non_functional_requirements":["..."],"test_scenarios":["..."],"risk_areas":["..."],"coverage":[{"feature":"...","test_type":"..."}]}`)
	b.WriteString("\n\nRequirement text:\n")
	b.WriteString(chunkText)
	return b.String()
}

// DesignerPrompt renders the designer's task for an analysis payload.
func (ps *PromptSet) DesignerPrompt(analysisJSON string) string {
	var b strings.Builder
	b.WriteString("Create a test design from the analysis below: an ordered scenario list with a coverage-driven test type and a P0..P4 priority per scenario.\n")
	b.WriteString("Reply with only valid JSON matching this shape:\n")
	b.WriteString(`{"approach":["..."],"scenarios":[{"feature":"...","test_type":"...","priority":"P1"}],"priorities":[{"level":"P0","description":"..."}]}`)
	b.WriteString("\n\nAnalysis:\n")
	b.WriteString(analysisJSON)
	return b.String()
}

// WriterPrompt renders the writer's task for a design payload.
func (ps *PromptSet) WriterPrompt(designJSON string) string {
	var b strings.Builder
	b.WriteString("Write detailed, executable test cases covering every scenario in the design below.\n")
	b.WriteString("Each case needs id, title, preconditions, steps, expected_results (one per step), priority (P0..P4) and category.\n")
	b.WriteString("Reply with only valid JSON matching this shape:\n")
	b.WriteString(`{"test_cases":[{"id":"tc001","title":"...","preconditions":["..."],"steps":["..."],"expected_results":["..."],"priority":"P0","category":"...","description":"..."}]}`)
	b.WriteString("\n\nTest design:\n")
	b.WriteString(designJSON)
	return b.String()
}

// ReviewerPrompt renders the qa role's task for a draft payload.
func (ps *PromptSet) ReviewerPrompt(draftJSON string) string {
	var b strings.Builder
	b.WriteString("Review the test cases below for completeness, clarity, executability, boundary coverage and error scenarios.\n")
	b.WriteString("Report issues with severity \"blocking\" for defects the writer must fix and \"minor\" otherwise. An empty issues list approves the draft.\n")
	b.WriteString("Reply with only valid JSON matching this shape:\n")
	b.WriteString(`{"target_case_ids":["tc001"],"issues":[{"severity":"blocking","message":"..."}],"revision_directive":"..."}`)
	b.WriteString("\n\nTest cases:\n")
	b.WriteString(draftJSON)
	return b.String()
}

func builtinSystemPrompt(profile Profile, role Role) string {
	domain := "a software product"
	if profile == ProfileAPI {
		domain = "an HTTP API surface"
	}
	switch role {
	case RoleAnalyst:
		return fmt.Sprintf("You are a professional requirements analyst for software testing. You decompose requirements for %s into key test areas, functional flows and risks.", domain)
	case RoleDesigner:
		return fmt.Sprintf("You are a professional test designer. You turn analyzed requirements for %s into a complete test strategy with coverage and priorities.", domain)
	case RoleWriter:
		return fmt.Sprintf("You are a precise test case writer. You turn test designs for %s into detailed, clear, executable test cases in strict JSON.", domain)
	case RoleQA:
		return "You are a rigorous quality assurance expert. You review test cases against quality standards and report concrete, actionable issues."
	default:
		return ""
	}
}
