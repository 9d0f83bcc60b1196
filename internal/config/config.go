// internal/config/config.go
//
// This package handles configuration and the .tally directory structure.
// Every project that runs tally gets a .tally/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/tally/internal/tally"
	"github.com/kingrea/tally/internal/validation"
)

const (
	// TallyDir is the name of the directory we create in each project
	TallyDir = ".tally"

	defaultEndpoint   = "http://localhost:8000/api/process_document"
	defaultTimeout    = 60 * time.Second
	defaultStagger    = 800 * time.Millisecond
	defaultRevealRate = 10 * time.Millisecond
	defaultStubHost   = "127.0.0.1"
	defaultStubPort   = 8000
)

const defaultProjectConfigYAML = `# tally project configuration
version: 1

# Extraction service. rate_limit is requests per second (0 = unlimited).
extraction:
  endpoint: http://localhost:8000/api/process_document
  timeout: 60s
  rate_limit: 0
  burst: 1
  # Reuse results for identical documents. 0 disables the cache.
  cache_ttl: 0s

# Presentation pacing.
pacing:
  stagger: 800ms
  reveal_rate: 10ms
  validation:
    syntax: 1s
    missing_parameter: 2500ms
    final: 3500ms

# Optional phase definition override (YAML). Empty uses the built-in five phases.
workflow:
  definition: ""

# Inference rules tried in order when no symbol matches. Matching is case sensitive.
rules:
  - contains: Outgoing
    tag: FT-201.OUT
  - contains: weight
    tag: V-110.dWT
  - contains: time
    tag: P-TIME_ALARM

# Optional logic snippet overrides (YAML with initial/final keys).
templates: ""

# Optional default symbol list (JSON or YAML) loaded into the input phase.
symbols: ""

# Stand-in extraction service started by 'tally serve-stub'.
stub:
  host: 127.0.0.1
  port: 8000
  unavailable: false
  include_outside: false
`

// ExtractionConfig configures the extraction client.
type ExtractionConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// PacingConfig holds the presentation delays.
type PacingConfig struct {
	Stagger    time.Duration       `yaml:"stagger"`
	RevealRate time.Duration       `yaml:"reveal_rate"`
	Validation validation.Timeline `yaml:"validation"`
}

// WorkflowConfig captures phase definition preferences.
type WorkflowConfig struct {
	Definition string `yaml:"definition"`
}

// StubConfig configures the stand-in extraction service.
type StubConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Unavailable    bool   `yaml:"unavailable"`
	IncludeOutside bool   `yaml:"include_outside"`
}

// ProjectConfig models .tally/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Pacing     PacingConfig     `yaml:"pacing"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Rules      []tally.Rule     `yaml:"rules"`
	Templates  string           `yaml:"templates"`
	Symbols    string           `yaml:"symbols"`
	Stub       StubConfig       `yaml:"stub"`
}

// Config holds the runtime configuration for tally.
type Config struct {
	// ProjectDir is the directory where the user ran `tally` from
	ProjectDir string

	// TallyProjectDir is ProjectDir/.tally
	TallyProjectDir string

	Project ProjectConfig
}

// InitTallyDir creates the .tally directory structure in the given project
// directory and writes a documented config.yaml if none exists.
//
// Structure created:
// .tally/
// ├── config.yaml
// └── logs/     <- diagnostic log and journey logbook
func InitTallyDir(projectDir string) error {
	tallyDir := filepath.Join(projectDir, TallyDir)
	if err := os.MkdirAll(filepath.Join(tallyDir, "logs"), 0755); err != nil {
		return err
	}
	return ensureProjectConfig(filepath.Join(tallyDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:      projectDir,
		TallyProjectDir: filepath.Join(projectDir, TallyDir),
		Project:         defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.TallyProjectDir, "logs")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.TallyProjectDir, "config.yaml")
}

// DefinitionPath is the phase definition override, or "".
func (c *Config) DefinitionPath() string { return c.Project.Workflow.Definition }

// TemplatesPath is the logic snippet override, or "".
func (c *Config) TemplatesPath() string { return c.Project.Templates }

// SymbolsPath is the default symbol list, or "".
func (c *Config) SymbolsPath() string { return c.Project.Symbols }

// StubAddress returns the stub service bind address.
func (c *Config) StubAddress() string {
	return fmt.Sprintf("%s:%d", c.Project.Stub.Host, c.Project.Stub.Port)
}

// Marshal renders the effective project config.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return nil, fmt.Errorf("config: encode config: %w", err)
	}
	return data, nil
}

// ApplyOverrides layers flag and environment values bound in v over the
// loaded project config. Only keys that are set are applied.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	if c == nil || v == nil {
		return nil
	}
	pc := &c.Project
	if v.IsSet("endpoint") {
		pc.Extraction.Endpoint = v.GetString("endpoint")
	}
	if v.IsSet("timeout") {
		pc.Extraction.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("rate-limit") {
		pc.Extraction.RateLimit = v.GetFloat64("rate-limit")
	}
	if v.IsSet("cache-ttl") {
		pc.Extraction.CacheTTL = v.GetDuration("cache-ttl")
	}
	if v.IsSet("stagger") {
		pc.Pacing.Stagger = v.GetDuration("stagger")
	}
	if v.IsSet("reveal-rate") {
		pc.Pacing.RevealRate = v.GetDuration("reveal-rate")
	}
	if v.IsSet("definition") {
		pc.Workflow.Definition = v.GetString("definition")
	}
	if v.IsSet("templates") {
		pc.Templates = v.GetString("templates")
	}
	if v.IsSet("symbols-file") {
		pc.Symbols = v.GetString("symbols-file")
	}
	if v.IsSet("stub.host") {
		pc.Stub.Host = v.GetString("stub.host")
	}
	if v.IsSet("stub.port") {
		pc.Stub.Port = v.GetInt("stub.port")
	}
	if v.IsSet("stub.unavailable") {
		pc.Stub.Unavailable = v.GetBool("stub.unavailable")
	}
	if v.IsSet("stub.include-outside") {
		pc.Stub.IncludeOutside = v.GetBool("stub.include-outside")
	}
	pc.normalize(c.ProjectDir)
	if err := pc.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Extraction.Endpoint) == "" {
		pc.Extraction.Endpoint = defaultEndpoint
	}
	if pc.Extraction.Timeout == 0 {
		pc.Extraction.Timeout = defaultTimeout
	}
	if pc.Extraction.Burst <= 0 {
		pc.Extraction.Burst = 1
	}
	if pc.Pacing.Stagger == 0 {
		pc.Pacing.Stagger = defaultStagger
	}
	if pc.Pacing.RevealRate == 0 {
		pc.Pacing.RevealRate = defaultRevealRate
	}
	if pc.Pacing.Validation == (validation.Timeline{}) {
		pc.Pacing.Validation = validation.DefaultTimeline()
	}
	if pc.Rules == nil {
		pc.Rules = tally.DefaultRules()
	}
	if strings.TrimSpace(pc.Stub.Host) == "" {
		pc.Stub.Host = defaultStubHost
	}
	if pc.Stub.Port == 0 {
		pc.Stub.Port = defaultStubPort
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Extraction.Endpoint = strings.TrimSpace(pc.Extraction.Endpoint)
	pc.Workflow.Definition = resolvePath(base, pc.Workflow.Definition)
	pc.Templates = resolvePath(base, pc.Templates)
	pc.Symbols = resolvePath(base, pc.Symbols)
	pc.Stub.Host = strings.TrimSpace(pc.Stub.Host)
	for i := range pc.Rules {
		pc.Rules[i].Tag = strings.TrimSpace(pc.Rules[i].Tag)
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	endpoint, err := url.Parse(pc.Extraction.Endpoint)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return fmt.Errorf("extraction.endpoint %q must be an http(s) URL", pc.Extraction.Endpoint)
	}
	if pc.Extraction.Timeout < 0 {
		return fmt.Errorf("extraction.timeout must be >= 0")
	}
	if pc.Extraction.RateLimit < 0 {
		return fmt.Errorf("extraction.rate_limit must be >= 0")
	}
	if pc.Extraction.CacheTTL < 0 {
		return fmt.Errorf("extraction.cache_ttl must be >= 0")
	}
	if pc.Pacing.Stagger < 0 {
		return fmt.Errorf("pacing.stagger must be >= 0")
	}
	if pc.Pacing.RevealRate < 0 {
		return fmt.Errorf("pacing.reveal_rate must be >= 0")
	}
	if err := pc.Pacing.Validation.Validate(); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	if err := tally.ValidateRules(pc.Rules); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if pc.Stub.Port < 0 || pc.Stub.Port > 65535 {
		return fmt.Errorf("stub.port %d out of range", pc.Stub.Port)
	}
	return nil
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

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}
