package testcase

import (
	"fmt"
	"strings"
)

// Priority is the urgency band assigned to a test case.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// KnownPriorities lists every accepted priority band in rank order.
var KnownPriorities = []Priority{PriorityP0, PriorityP1, PriorityP2, PriorityP3, PriorityP4}

// Valid reports whether the priority is one of the accepted bands.
func (p Priority) Valid() bool {
	for _, known := range KnownPriorities {
		if p == known {
			return true
		}
	}
	return false
}

// NormalizePriority coerces loose model output ("1", "p2", "P3 ") into the
// canonical Pn form. Unrecognized values are returned trimmed and upper-cased
// so validation can reject them with the original text intact.
func NormalizePriority(raw string) Priority {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	if len(value) == 1 && value[0] >= '0' && value[0] <= '4' {
		return Priority("P" + value)
	}
	return Priority(value)
}

// TestCase is one generated, reviewable, executable test case.
type TestCase struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Preconditions   []string `json:"preconditions"`
	Steps           []string `json:"steps"`
	ExpectedResults []string `json:"expected_results"`
	Priority        Priority `json:"priority"`
	Category        string   `json:"category"`
}

// Validate checks the case against the structural contract every consumer
// relies on. All violations are reported, not just the first.
func (tc TestCase) Validate() []error {
	var errs []error
	if strings.TrimSpace(tc.ID) == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if strings.TrimSpace(tc.Title) == "" {
		errs = append(errs, fmt.Errorf("title is required"))
	}
	if len(tc.Steps) == 0 {
		errs = append(errs, fmt.Errorf("steps must not be empty"))
	}
	if len(tc.ExpectedResults) == 0 {
		errs = append(errs, fmt.Errorf("expected_results must not be empty"))
	}
	if len(tc.Steps) != len(tc.ExpectedResults) {
		errs = append(errs, fmt.Errorf("steps (%d) and expected_results (%d) must be parallel", len(tc.Steps), len(tc.ExpectedResults)))
	}
	if !tc.Priority.Valid() {
		errs = append(errs, fmt.Errorf("priority %q must be one of P0..P4", tc.Priority))
	}
	if strings.TrimSpace(tc.Category) == "" {
		errs = append(errs, fmt.Errorf("category is required"))
	}
	return errs
}

// Clone returns a deep copy so drafts can be revised without aliasing the
// slices published to the aggregator.
func (tc TestCase) Clone() TestCase {
	out := tc
	out.Preconditions = cloneStrings(tc.Preconditions)
	out.Steps = cloneStrings(tc.Steps)
	out.ExpectedResults = cloneStrings(tc.ExpectedResults)
	return out
}

// FingerprintKey is the normalized title+steps key used for optional
// duplicate suppression during aggregation.
func (tc TestCase) FingerprintKey() string {
	var b strings.Builder
	b.WriteString(normalizeText(tc.Title))
	for _, step := range tc.Steps {
		b.WriteByte('\n')
		b.WriteString(normalizeText(step))
	}
	return b.String()
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
