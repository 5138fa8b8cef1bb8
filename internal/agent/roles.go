package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/casewright/casewright/internal/testcase"
)

// Role identifies one specialized capability in the pipeline.
type Role string

const (
	RoleAnalyst  Role = "analyst"
	RoleDesigner Role = "designer"
	RoleWriter   Role = "writer"
	RoleQA       Role = "qa"
)

// Roles lists every pipeline role in invocation order.
var Roles = []Role{RoleAnalyst, RoleDesigner, RoleWriter, RoleQA}

// AnalysisResult is the Analyst's decomposition of one requirement chunk.
type AnalysisResult struct {
	FunctionalRequirements    []string        `json:"functional_requirements"`
	NonFunctionalRequirements []string        `json:"non_functional_requirements,omitempty"`
	TestScenarios             []string        `json:"test_scenarios,omitempty"`
	RiskAreas                 []string        `json:"risk_areas,omitempty"`
	Coverage                  []CoverageEntry `json:"coverage,omitempty"`
}

// CoverageEntry maps one feature to a test type it should be covered by.
type CoverageEntry struct {
	Feature  string `json:"feature"`
	TestType string `json:"test_type"`
}

// Validate enforces the Analyst's output contract.
func (r AnalysisResult) Validate() error {
	if len(r.FunctionalRequirements) == 0 && len(r.NonFunctionalRequirements) == 0 {
		return fmt.Errorf("analysis lists no requirements")
	}
	for i, req := range r.FunctionalRequirements {
		if strings.TrimSpace(req) == "" {
			return fmt.Errorf("functional_requirements[%d] is blank", i)
		}
	}
	return nil
}

// TestDesign is the Designer's ordered scenario plan for one chunk.
type TestDesign struct {
	Approach  []string           `json:"approach,omitempty"`
	Scenarios []ScenarioDesc     `json:"scenarios"`
	Levels    []PriorityGuidance `json:"priorities,omitempty"`
}

// ScenarioDesc describes one planned scenario before it becomes test cases.
type ScenarioDesc struct {
	Feature  string            `json:"feature"`
	TestType string            `json:"test_type"`
	Priority testcase.Priority `json:"priority"`
}

// PriorityGuidance explains what a priority band means for this design.
type PriorityGuidance struct {
	Level       testcase.Priority `json:"level"`
	Description string            `json:"description"`
}

// Validate enforces the Designer's output contract.
func (d TestDesign) Validate() error {
	if len(d.Scenarios) == 0 {
		return fmt.Errorf("design lists no scenarios")
	}
	for i, sc := range d.Scenarios {
		if strings.TrimSpace(sc.Feature) == "" {
			return fmt.Errorf("scenarios[%d].feature is blank", i)
		}
		if sc.Priority != "" && !testcase.NormalizePriority(string(sc.Priority)).Valid() {
			return fmt.Errorf("scenarios[%d].priority %q is not P0..P4", i, sc.Priority)
		}
	}
	return nil
}

// Draft is the Writer's output: the raw case list before normalization.
type Draft struct {
	TestCases []testcase.TestCase `json:"test_cases"`
}

// looseStrings accepts either a JSON array of strings or a bare string,
// which some models emit for single-entry lists.
type looseStrings []string

func (l *looseStrings) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = []string{single}
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*l = values
	return nil
}

// UnmarshalJSON tolerates scalar step/precondition/expectation values in
// writer output, coercing them to single-element lists.
func (d *Draft) UnmarshalJSON(data []byte) error {
	var raw struct {
		TestCases []struct {
			ID              string       `json:"id"`
			Title           string       `json:"title"`
			Description     string       `json:"description"`
			Preconditions   looseStrings `json:"preconditions"`
			Steps           looseStrings `json:"steps"`
			ExpectedResults looseStrings `json:"expected_results"`
			Priority        string       `json:"priority"`
			Category        string       `json:"category"`
		} `json:"test_cases"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.TestCases = d.TestCases[:0]
	for _, c := range raw.TestCases {
		d.TestCases = append(d.TestCases, testcase.TestCase{
			ID:              c.ID,
			Title:           c.Title,
			Description:     c.Description,
			Preconditions:   []string(c.Preconditions),
			Steps:           []string(c.Steps),
			ExpectedResults: []string(c.ExpectedResults),
			Priority:        testcase.Priority(c.Priority),
			Category:        c.Category,
		})
	}
	return nil
}

// Validate enforces the Writer's output contract. Individual cases are
// normalized and validated separately so salvageable drafts survive.
func (d Draft) Validate() error {
	if len(d.TestCases) == 0 {
		return fmt.Errorf("draft contains no test cases")
	}
	return nil
}

// Severity classifies a review issue.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityMinor    Severity = "minor"
)

// ReviewIssue is one defect the QA role found in a draft.
type ReviewIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ReviewFeedback is the QA role's verdict for one draft pass. It is consumed
// by the next Writer pass and then discarded.
type ReviewFeedback struct {
	TargetCaseIDs     []string      `json:"target_case_ids,omitempty"`
	Issues            []ReviewIssue `json:"issues"`
	RevisionDirective string        `json:"revision_directive,omitempty"`
}

// Validate enforces the QA role's output contract. An empty issue list is a
// valid response and means implicit approval.
func (f ReviewFeedback) Validate() error {
	for i, issue := range f.Issues {
		if issue.Severity != SeverityBlocking && issue.Severity != SeverityMinor {
			return fmt.Errorf("issues[%d].severity %q must be blocking or minor", i, issue.Severity)
		}
		if strings.TrimSpace(issue.Message) == "" {
			return fmt.Errorf("issues[%d].message is blank", i)
		}
	}
	return nil
}

// Blocking reports whether the feedback demands another Writer pass.
func (f ReviewFeedback) Blocking() bool {
	for _, issue := range f.Issues {
		if issue.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// NormalizeDraft coerces loose writer output into the structural contract:
// priorities canonicalized, blank categories defaulted, expected results
// padded to stay parallel with steps, structurally broken cases dropped.
// The returned slice is what the review loop operates on, dropped reports
// how many cases failed validation outright.
func NormalizeDraft(cases []testcase.TestCase, defaultCategory string) (kept []testcase.TestCase, dropped int) {
	for _, tc := range cases {
		tc = tc.Clone()
		tc.Priority = testcase.NormalizePriority(string(tc.Priority))
		if strings.TrimSpace(tc.Category) == "" {
			tc.Category = defaultCategory
		}
		for len(tc.ExpectedResults) < len(tc.Steps) {
			tc.ExpectedResults = append(tc.ExpectedResults, "to be specified")
		}
		if len(tc.ExpectedResults) > len(tc.Steps) && len(tc.Steps) > 0 {
			tc.ExpectedResults = tc.ExpectedResults[:len(tc.Steps)]
		}
		if errs := tc.Validate(); len(errs) > 0 {
			dropped++
			continue
		}
		kept = append(kept, tc)
	}
	return kept, dropped
}
