// Package export writes test suites and execution results to destination
// files. CSV is the primary format so output loads directly into spreadsheet
// tooling; JSON is kept for round-tripping suites between runs.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/casewright/casewright/internal/executor"
	"github.com/casewright/casewright/internal/testcase"
)

// suiteHeader is the column order for generated test cases.
var suiteHeader = []string{
	"id", "title", "description", "preconditions",
	"steps", "expected_results", "priority", "category",
}

// resultHeader is the column order for executed cases.
var resultHeader = []string{
	"test_case_id", "title", "steps", "expected_results",
	"actual_result", "status", "execution_time",
}

// WriteSuiteCSV writes the suite's cases to path, one row per case.
// Multi-valued columns join entries with newlines so a cell reads as a list.
func WriteSuiteCSV(path string, suite testcase.TestSuite) error {
	return writeCSV(path, suiteHeader, func(w *csv.Writer) error {
		for _, tc := range suite.TestCases {
			row := []string{
				tc.ID,
				tc.Title,
				tc.Description,
				joinCell(tc.Preconditions),
				joinCell(tc.Steps),
				joinCell(tc.ExpectedResults),
				string(tc.Priority),
				tc.Category,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteResultsCSV writes execution results to path, one row per case.
func WriteResultsCSV(path string, results []executor.Result) error {
	return writeCSV(path, resultHeader, func(w *csv.Writer) error {
		for _, res := range results {
			row := []string{
				res.TestCaseID,
				res.Title,
				joinCell(res.Steps),
				joinCell(res.ExpectedResults),
				res.ActualResult,
				string(res.Status),
				res.ExecutedAt.Format("2006-01-02 15:04:05"),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteSuite picks the output format from the destination extension:
// .json keeps the full suite structure, anything else gets CSV.
func WriteSuite(path string, suite testcase.TestSuite) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return testcase.SaveSuite(path, suite)
	}
	return WriteSuiteCSV(path, suite)
}

func writeCSV(path string, header []string, writeRows func(*csv.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export: ensure %s: %w", dir, err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	if err := writeRows(w); err != nil {
		return fmt.Errorf("export: write rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush %s: %w", path, err)
	}
	return file.Close()
}

func joinCell(values []string) string {
	return strings.Join(values, "\n")
}
