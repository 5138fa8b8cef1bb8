package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Journal persists each role's last validated result as
// <role>_result.json so a run can be inspected after the fact. Writes are
// best-effort: a full disk never fails a pipeline unit.
type Journal struct {
	dir string
}

// NewJournal creates the journal directory if needed.
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Journal{dir: dir}, nil
}

// Save records a role's validated result.
func (j *Journal) Save(name string, result json.RawMessage) {
	if j == nil {
		return
	}
	var pretty []byte
	var buf any
	if err := json.Unmarshal(result, &buf); err == nil {
		pretty, _ = json.MarshalIndent(buf, "", "  ")
	}
	if pretty == nil {
		pretty = result
	}
	_ = os.WriteFile(j.path(name), append(pretty, '\n'), 0o644)
}

// Load returns a previously saved result, or nil when absent.
func (j *Journal) Load(name string) json.RawMessage {
	if j == nil {
		return nil
	}
	data, err := os.ReadFile(j.path(name))
	if err != nil {
		return nil
	}
	return data
}

func (j *Journal) path(name string) string {
	return filepath.Join(j.dir, name+"_result.json")
}
