package testcase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Provenance records which document chunk a run of cases came from, in the
// order chunks appeared in the source document.
type Provenance struct {
	DocumentID string `json:"document_id,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	CaseCount  int    `json:"case_count"`
}

// TestSuite is the aggregated, ordered collection of test cases for one run.
type TestSuite struct {
	TestCases  []TestCase   `json:"test_cases"`
	Provenance []Provenance `json:"provenance,omitempty"`
}

// Validate ensures suite-wide invariants hold, most importantly that every
// case id is unique across the whole suite.
func (s TestSuite) Validate() []error {
	var errs []error
	seen := make(map[string]int, len(s.TestCases))
	for i, tc := range s.TestCases {
		for _, err := range tc.Validate() {
			errs = append(errs, fmt.Errorf("test_cases[%d] (%s): %w", i, tc.ID, err))
		}
		if prev, dup := seen[tc.ID]; dup {
			errs = append(errs, fmt.Errorf("test_cases[%d]: id %q duplicates test_cases[%d]", i, tc.ID, prev))
			continue
		}
		seen[tc.ID] = i
	}
	return errs
}

// LoadSuite reads a TestSuite from its JSON interchange form.
func LoadSuite(path string) (TestSuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TestSuite{}, fmt.Errorf("testcase: read suite %s: %w", path, err)
	}
	var suite TestSuite
	if err := json.Unmarshal(data, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("testcase: parse suite %s: %w", path, err)
	}
	return suite, nil
}

// SaveSuite writes the suite to disk in the JSON interchange form.
func SaveSuite(path string, suite TestSuite) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("testcase: ensure suite dir: %w", err)
	}
	encoded, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return fmt.Errorf("testcase: encode suite: %w", err)
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o644)
}
