// Package config handles loading, validating, and defaulting Ronin configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode constants for Ronin operating modes.
const (
	// ModeEnforce blocks calls that fail a defense layer.
	ModeEnforce = "enforce"
	// ModeMonitor logs verdicts without blocking. Responses are still
	// sanitized and framed.
	ModeMonitor = "monitor"
)

// Output/format constants for configuration defaults.
const (
	DefaultLogFormat = "json"
	// Audit output defaults to stderr: stdout carries the JSON-RPC stream.
	DefaultLogOutput = "stderr"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// Config is the top-level Ronin configuration.
type Config struct {
	Version      int           `yaml:"version"`
	Mode         string        `yaml:"mode"`    // enforce, monitor
	Enforce      *bool         `yaml:"enforce"` // nil = true; false = detect & log without blocking
	Upstream     Upstream      `yaml:"upstream"`
	Alignment    Alignment     `yaml:"alignment"`
	Sequence     Sequence      `yaml:"sequence"`
	Injection    Injection     `yaml:"injection"`
	Sanitization Sanitization  `yaml:"sanitization"`
	Framing      Framing       `yaml:"framing"`
	Logging      LoggingConfig `yaml:"logging"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Store        StoreConfig   `yaml:"store"`
	Alerts       AlertsConfig  `yaml:"alerts"`
}

// Upstream configures the backend MCP server Ronin fronts. Exactly one of
// Command (stdio subprocess) or URL (WebSocket) must be set.
type Upstream struct {
	Command        []string `yaml:"command"` // argv for a stdio MCP server subprocess
	URL            string   `yaml:"url"`     // ws:// or wss:// endpoint
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Timeout returns the per-call upstream timeout.
func (u Upstream) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Alignment configures the intent-alignment layer.
type Alignment struct {
	Enabled   *bool   `yaml:"enabled"`   // nil = true
	Threshold float64 `yaml:"threshold"` // minimum overlap ratio, default 0.12
}

// Sequence configures the call-sequence anomaly layer.
type Sequence struct {
	Enabled            *bool `yaml:"enabled"` // nil = true
	MaxHistory         int   `yaml:"max_history"`
	BurstWindowSeconds int   `yaml:"burst_window_seconds"`
}

// BurstWindow returns the burst detection window.
func (s Sequence) BurstWindow() time.Duration {
	return time.Duration(s.BurstWindowSeconds) * time.Second
}

// Injection configures the response injection-detection layer. Patterns, when
// set, replace the built-in library entirely; family assigns each pattern to
// a rewrite group.
type Injection struct {
	Enabled  *bool              `yaml:"enabled"` // nil = true
	Patterns []InjectionPattern `yaml:"patterns"`
}

// InjectionPattern is one named detection regex. Family is one of authority,
// command, tool_manipulation, false_claim.
type InjectionPattern struct {
	Name   string `yaml:"name"`
	Regex  string `yaml:"regex"`
	Family string `yaml:"family"`
}

// Valid injection pattern families.
const (
	FamilyAuthority        = "authority"
	FamilyCommand          = "command"
	FamilyToolManipulation = "tool_manipulation"
	FamilyFalseClaim       = "false_claim"
)

// Sanitization configures payload span stripping.
type Sanitization struct {
	Enabled *bool `yaml:"enabled"` // nil = true
}

// Framing configures content framing and instruction scoring.
type Framing struct {
	Enabled        *bool    `yaml:"enabled"`         // nil = true
	ScoreThreshold *float64 `yaml:"score_threshold"` // frame when instruction score exceeds this, default 0.3
}

// LoggingConfig configures audit logging.
type LoggingConfig struct {
	Format         string `yaml:"format"` // json, text
	Output         string `yaml:"output"` // stderr, file, both
	File           string `yaml:"file"`
	IncludeAllowed bool   `yaml:"include_allowed"`
}

// MetricsConfig configures the Prometheus /metrics and JSON /stats endpoints.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// StoreConfig configures the SQLite decision store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertsConfig configures webhook alerting for blocked calls and injection
// detections. Alerting is off when WebhookURL is empty.
type AlertsConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	Token       string `yaml:"token"`        // optional bearer token
	MinSeverity string `yaml:"min_severity"` // info, warn, critical
}

// EnforceEnabled returns whether blocking is enabled. Defaults to true when
// Enforce is nil; monitor mode also disables blocking.
func (c *Config) EnforceEnabled() bool {
	if c.Mode == ModeMonitor {
		return false
	}
	return c.Enforce == nil || *c.Enforce
}

// Layer-enabled accessors: nil means enabled.

func (a Alignment) IsEnabled() bool    { return a.Enabled == nil || *a.Enabled }
func (s Sequence) IsEnabled() bool     { return s.Enabled == nil || *s.Enabled }
func (i Injection) IsEnabled() bool    { return i.Enabled == nil || *i.Enabled }
func (s Sanitization) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }
func (f Framing) IsEnabled() bool      { return f.Enabled == nil || *f.Enabled }

// Threshold returns the framing score threshold, defaulted.
func (f Framing) Threshold() float64 {
	if f.ScoreThreshold == nil {
		return 0.3
	}
	return *f.ScoreThreshold
}

// Load reads, parses, defaults, and validates a Ronin config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Mode == "" {
		c.Mode = ModeEnforce
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Alignment.Threshold <= 0 {
		c.Alignment.Threshold = 0.12
	}
	if c.Sequence.MaxHistory <= 0 {
		c.Sequence.MaxHistory = 10
	}
	if c.Sequence.BurstWindowSeconds <= 0 {
		c.Sequence.BurstWindowSeconds = 5
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9190"
	}
	if c.Store.Enabled && c.Store.Path == "" {
		c.Store.Path = "ronin.db"
	}
}

// Validate checks the config for errors. Must be called after ApplyDefaults.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeEnforce, ModeMonitor:
		// valid
	default:
		return fmt.Errorf("invalid mode %q: must be enforce or monitor", c.Mode)
	}

	hasCommand := len(c.Upstream.Command) > 0
	hasURL := c.Upstream.URL != ""
	if hasCommand == hasURL {
		return fmt.Errorf("upstream requires exactly one of command or url")
	}
	if hasURL && !strings.HasPrefix(c.Upstream.URL, "ws://") && !strings.HasPrefix(c.Upstream.URL, "wss://") {
		return fmt.Errorf("upstream url %q: scheme must be ws or wss", c.Upstream.URL)
	}

	if c.Alignment.Threshold < 0 || c.Alignment.Threshold > 1 {
		return fmt.Errorf("alignment.threshold %v out of range [0,1]", c.Alignment.Threshold)
	}
	if t := c.Framing.Threshold(); t < 0 || t > 1 {
		return fmt.Errorf("framing.score_threshold %v out of range [0,1]", t)
	}

	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stderr, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	for _, p := range c.Injection.Patterns {
		if p.Name == "" {
			return fmt.Errorf("injection pattern missing name")
		}
		if p.Regex == "" {
			return fmt.Errorf("injection pattern %q missing regex", p.Name)
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("injection pattern %q has invalid regex: %w", p.Name, err)
		}
		switch p.Family {
		case FamilyAuthority, FamilyCommand, FamilyToolManipulation, FamilyFalseClaim:
			// valid
		default:
			return fmt.Errorf("injection pattern %q has invalid family %q", p.Name, p.Family)
		}
	}

	if c.Alerts.WebhookURL != "" &&
		!strings.HasPrefix(c.Alerts.WebhookURL, "http://") &&
		!strings.HasPrefix(c.Alerts.WebhookURL, "https://") {
		return fmt.Errorf("alerts.webhook_url %q: scheme must be http or https", c.Alerts.WebhookURL)
	}
	switch c.Alerts.MinSeverity {
	case "", "info", "warn", "critical":
		// valid
	default:
		return fmt.Errorf("invalid alerts.min_severity %q: must be info, warn, or critical", c.Alerts.MinSeverity)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics listen address %q: %w", c.Metrics.Listen, err)
		}
		if host, _, _ := net.SplitHostPort(c.Metrics.Listen); host != "" {
			ip := net.ParseIP(host)
			if ip != nil && !ip.IsLoopback() {
				fmt.Fprintf(os.Stderr, "WARNING: metrics listen address %s is not loopback - /metrics and /stats will be exposed to the network\n", c.Metrics.Listen)
			}
		}
	}

	return nil
}

// ReloadWarning describes a potential security downgrade from a config reload.
type ReloadWarning struct {
	Field   string
	Message string
}

// ValidateReload compares old and new configs and returns warnings for
// potential security downgrades. Warnings don't block the reload.
func ValidateReload(old, updated *Config) []ReloadWarning {
	var warnings []ReloadWarning

	if old.Mode == ModeEnforce && updated.Mode == ModeMonitor {
		warnings = append(warnings, ReloadWarning{
			Field:   "mode",
			Message: "mode downgraded from enforce to monitor",
		})
	}
	if old.EnforceEnabled() && !updated.EnforceEnabled() {
		warnings = append(warnings, ReloadWarning{
			Field:   "enforce",
			Message: "enforcement disabled — switching to detect-only mode",
		})
	}

	type layer struct {
		field    string
		old, new bool
	}
	for _, l := range []layer{
		{"alignment.enabled", old.Alignment.IsEnabled(), updated.Alignment.IsEnabled()},
		{"sequence.enabled", old.Sequence.IsEnabled(), updated.Sequence.IsEnabled()},
		{"injection.enabled", old.Injection.IsEnabled(), updated.Injection.IsEnabled()},
		{"sanitization.enabled", old.Sanitization.IsEnabled(), updated.Sanitization.IsEnabled()},
		{"framing.enabled", old.Framing.IsEnabled(), updated.Framing.IsEnabled()},
	} {
		if l.old && !l.new {
			warnings = append(warnings, ReloadWarning{
				Field:   l.field,
				Message: fmt.Sprintf("defense layer %s disabled", strings.TrimSuffix(l.field, ".enabled")),
			})
		}
	}

	if updated.Alignment.Threshold < old.Alignment.Threshold {
		warnings = append(warnings, ReloadWarning{
			Field:   "alignment.threshold",
			Message: fmt.Sprintf("alignment threshold lowered from %v to %v", old.Alignment.Threshold, updated.Alignment.Threshold),
		})
	}
	if len(old.Injection.Patterns) > 0 && len(updated.Injection.Patterns) < len(old.Injection.Patterns) {
		warnings = append(warnings, ReloadWarning{
			Field:   "injection.patterns",
			Message: fmt.Sprintf("injection patterns reduced from %d to %d", len(old.Injection.Patterns), len(updated.Injection.Patterns)),
		})
	}
	if old.Store.Enabled && !updated.Store.Enabled {
		warnings = append(warnings, ReloadWarning{
			Field:   "store.enabled",
			Message: "decision store disabled",
		})
	}
	if old.Alerts.WebhookURL != "" && updated.Alerts.WebhookURL == "" {
		warnings = append(warnings, ReloadWarning{
			Field:   "alerts.webhook_url",
			Message: "webhook alerting disabled",
		})
	}

	return warnings
}

// Defaults returns a Config with all defense layers enabled and built-in
// pattern libraries. The upstream must still be filled in by the caller.
func Defaults() *Config {
	cfg := &Config{
		Version: 1,
		Mode:    ModeEnforce,
		Upstream: Upstream{
			TimeoutSeconds: 30,
		},
		Alignment: Alignment{
			Threshold: 0.12,
		},
		Sequence: Sequence{
			MaxHistory:         10,
			BurstWindowSeconds: 5,
		},
		Logging: LoggingConfig{
			Format:         DefaultLogFormat,
			Output:         DefaultLogOutput,
			IncludeAllowed: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9190",
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "ronin.db",
		},
	}
	return cfg
}
