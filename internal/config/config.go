// internal/config/config.go
//
// This package handles configuration and the .casewright directory structure.
// Every project that uses casewright gets a .casewright/ folder created in its
// root. Configuration is read once at startup and never mutated afterwards.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// CasewrightDir is the name of the directory we create in each project
	CasewrightDir = ".casewright"

	defaultModel         = "gpt-4-turbo-preview"
	defaultMaxIterations = 3
	defaultConcurrency   = 1
	defaultRateLimit     = 4
	defaultMaxAttempts   = 3
	defaultBaseDelayMS   = 500
	defaultTimeoutSec    = 120
)

const defaultProjectConfigYAML = `# casewright project configuration
version: 1

# Per-role model settings. Any role left out falls back to the defaults below.
agents:
  analyst:
    model: gpt-4-turbo-preview
    temperature: 0.7
    timeout_seconds: 120
  designer:
    model: gpt-4-turbo-preview
    temperature: 0.7
    timeout_seconds: 120
  writer:
    model: gpt-4-turbo-preview
    temperature: 0.5
    timeout_seconds: 120
  qa:
    model: gpt-4-turbo-preview
    temperature: 0.3
    timeout_seconds: 120

# How many review/revise rounds a draft gets before it is finalized as-is.
max_iterations: 3

# How many requirement chunks run through the pipeline at once.
concurrency: 1

# Upper bound on simultaneous in-flight completion calls across all units.
# 0 means unlimited.
rate_limit: 4

retry:
  max_attempts: 3
  base_delay_ms: 500

# Optional directory of prompt template overrides (<profile>_<role>.txt).
# templates_dir: prompts

# Drop duplicate test cases when merging chunk results.
dedupe: false
`

// Error marks a fatal configuration problem detected before any unit is
// dispatched.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "configuration: " + e.Reason
}

// AgentConfig holds one role's model settings.
type AgentConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout converts the role's timeout to a duration.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// RetryConfig tunes transient-failure retries for completion calls.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
}

// BaseDelay converts the retry seed delay to a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// ProjectConfig models .casewright/config.yaml.
type ProjectConfig struct {
	Version       int                    `yaml:"version"`
	Agents        map[string]AgentConfig `yaml:"agents"`
	MaxIterations int                    `yaml:"max_iterations"`
	Concurrency   int                    `yaml:"concurrency"`
	RateLimit     int                    `yaml:"rate_limit"`
	Retry         RetryConfig            `yaml:"retry"`
	TemplatesDir  string                 `yaml:"templates_dir"`
	Dedupe        bool                   `yaml:"dedupe"`
}

// Config holds the runtime configuration for casewright.
type Config struct {
	// ProjectDir is the directory where the user ran `casewright` from
	ProjectDir string

	// CasewrightProjectDir is ProjectDir/.casewright
	CasewrightProjectDir string

	// APIKey authenticates against the completion service.
	APIKey string

	// BaseURL optionally points at a compatible alternative endpoint.
	BaseURL string

	// ModelOverride, when set from the environment, wins over per-role models.
	ModelOverride string

	Project ProjectConfig
}

// RoleNames are the config keys for the four pipeline roles.
var RoleNames = []string{"analyst", "designer", "writer", "qa"}

// InitCasewrightDir creates the .casewright directory structure in the given
// project directory and scaffolds a commented config file if none exists.
//
// Structure created:
// .casewright/
// ├── logs/     <- Run logbook
// └── state/    <- Per-run agent journals and engine results
func InitCasewrightDir(projectDir string) error {
	caseDir := filepath.Join(projectDir, CasewrightDir)

	dirs := []string{
		filepath.Join(caseDir, "logs"),
		filepath.Join(caseDir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(caseDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
// A missing credential is fatal; a missing config file is not, defaults apply.
func NewConfig(projectDir string) (*Config, error) {
	apiKey := firstEnv("CASEWRIGHT_API_KEY", "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, &Error{Reason: "CASEWRIGHT_API_KEY (or OPENAI_API_KEY) environment variable is not set"}
	}

	cfg := &Config{
		ProjectDir:           projectDir,
		CasewrightProjectDir: filepath.Join(projectDir, CasewrightDir),
		APIKey:               apiKey,
		BaseURL:              firstEnv("CASEWRIGHT_BASE_URL", "OPENAI_API_BASE"),
		ModelOverride:        firstEnv("CASEWRIGHT_MODEL", "OPENAI_MODEL"),
		Project:              defaultProjectConfig(),
	}

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.CasewrightProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.CasewrightProjectDir, "state")
}

// LogbookPath returns the path to the run logbook file
func (c *Config) LogbookPath() string {
	return filepath.Join(c.LogsDir(), "casewright.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.CasewrightProjectDir, "config.yaml")
}

// Agent returns the resolved settings for a role, applying the environment
// model override when present.
func (c *Config) Agent(role string) AgentConfig {
	ac, ok := c.Project.Agents[role]
	if !ok {
		ac = defaultAgentConfig(role)
	}
	if c.ModelOverride != "" {
		ac.Model = c.ModelOverride
	}
	return ac
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &Error{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return &Error{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return &Error{Reason: err.Error()}
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{
		Version:       1,
		Agents:        map[string]AgentConfig{},
		MaxIterations: defaultMaxIterations,
		Concurrency:   defaultConcurrency,
		RateLimit:     defaultRateLimit,
		Retry: RetryConfig{
			MaxAttempts: defaultMaxAttempts,
			BaseDelayMS: defaultBaseDelayMS,
		},
	}
	for _, role := range RoleNames {
		pc.Agents[role] = defaultAgentConfig(role)
	}
	return pc
}

func defaultAgentConfig(role string) AgentConfig {
	temperature := 0.7
	switch role {
	case "writer":
		temperature = 0.5
	case "qa":
		temperature = 0.3
	}
	return AgentConfig{
		Model:          defaultModel,
		Temperature:    temperature,
		TimeoutSeconds: defaultTimeoutSec,
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Agents == nil {
		pc.Agents = map[string]AgentConfig{}
	}
	for _, role := range RoleNames {
		ac, ok := pc.Agents[role]
		if !ok {
			pc.Agents[role] = defaultAgentConfig(role)
			continue
		}
		fallback := defaultAgentConfig(role)
		if strings.TrimSpace(ac.Model) == "" {
			ac.Model = fallback.Model
		}
		if ac.TimeoutSeconds <= 0 {
			ac.TimeoutSeconds = fallback.TimeoutSeconds
		}
		pc.Agents[role] = ac
	}
	if pc.MaxIterations == 0 {
		pc.MaxIterations = defaultMaxIterations
	}
	if pc.Concurrency == 0 {
		pc.Concurrency = defaultConcurrency
	}
	if pc.RateLimit == 0 {
		pc.RateLimit = defaultRateLimit
	}
	if pc.Retry.MaxAttempts == 0 {
		pc.Retry.MaxAttempts = defaultMaxAttempts
	}
	if pc.Retry.BaseDelayMS == 0 {
		pc.Retry.BaseDelayMS = defaultBaseDelayMS
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.TemplatesDir = resolvePath(base, pc.TemplatesDir)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if pc.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be >= 0")
	}
	if pc.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1")
	}
	if pc.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0")
	}
	if pc.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if pc.TemplatesDir != "" {
		info, err := os.Stat(pc.TemplatesDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("templates_dir %s is not a directory", pc.TemplatesDir)
		}
	}
	for role := range pc.Agents {
		if !isKnownRole(role) {
			return fmt.Errorf("agents.%s is not a known role", role)
		}
	}
	return nil
}

func isKnownRole(role string) bool {
	for _, known := range RoleNames {
		if role == known {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}
