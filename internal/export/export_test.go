package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/casewright/casewright/internal/executor"
	"github.com/casewright/casewright/internal/testcase"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func suiteFixture() testcase.TestSuite {
	return testcase.TestSuite{TestCases: []testcase.TestCase{{
		ID:              "tc1",
		Title:           "login works",
		Description:     "happy path login",
		Preconditions:   []string{"account exists"},
		Steps:           []string{"open page", "submit form"},
		ExpectedResults: []string{"form shown", "dashboard shown"},
		Priority:        testcase.PriorityP1,
		Category:        "functional",
	}}}
}

func TestWriteSuiteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.csv")
	if err := WriteSuiteCSV(path, suiteFixture()); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := readCSV(t, path)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1", len(rows))
	}
	wantHeader := []string{"id", "title", "description", "preconditions", "steps", "expected_results", "priority", "category"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Fatalf("header = %v, want %v", rows[0], wantHeader)
		}
	}
	row := rows[1]
	if row[0] != "tc1" || row[6] != "P1" {
		t.Fatalf("row = %v", row)
	}
	if row[4] != "open page\nsubmit form" {
		t.Fatalf("steps cell = %q", row[4])
	}
}

func TestWriteResultsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	executed := time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)
	results := []executor.Result{{
		TestCaseID:      "tc1",
		Title:           "login works",
		Steps:           []string{"open page"},
		ExpectedResults: []string{"form shown"},
		Status:          executor.StatusPassed,
		ActualResult:    "all steps succeeded",
		ExecutedAt:      executed,
	}}
	if err := WriteResultsCSV(path, results); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := readCSV(t, path)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	row := rows[1]
	if row[0] != "tc1" || row[5] != "passed" {
		t.Fatalf("row = %v", row)
	}
	if row[6] != "2026-08-31 10:30:00" {
		t.Fatalf("execution_time = %q", row[6])
	}
}

func TestWriteSuitePicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "suite.json")
	if err := WriteSuite(jsonPath, suiteFixture()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	loaded, err := testcase.LoadSuite(jsonPath)
	if err != nil {
		t.Fatalf("load json suite: %v", err)
	}
	if len(loaded.TestCases) != 1 {
		t.Fatalf("json round trip lost cases: %+v", loaded.TestCases)
	}

	csvPath := filepath.Join(dir, "suite.csv")
	if err := WriteSuite(csvPath, suiteFixture()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.HasPrefix(string(data), "id,title") {
		t.Fatalf("csv content = %q", string(data)[:20])
	}
}
