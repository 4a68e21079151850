package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soarhq/riposte/internal/model"
)

// RetryConfig bounds adapter retries in the executor and verifier.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Config holds all engine parameters. A loaded Config is an immutable
// snapshot; hot reload swaps the whole snapshot atomically so in-flight
// incidents keep the one they started with.
type Config struct {
	// Autonomy is the process-wide default gating level: L0..L3.
	Autonomy string `yaml:"autonomy"`

	// ProtectedAssetClasses always require dual approval (gate rule 1).
	ProtectedAssetClasses []string `yaml:"protected_asset_classes"`

	// ServiceAccountPatterns flag automation accounts whose targeting
	// is always blocked (gate rule 2). Glob-style, matched against the
	// target value.
	ServiceAccountPatterns []string `yaml:"service_account_patterns"`

	// BlastRadiusCeiling caps concurrent in-flight actions per incident.
	BlastRadiusCeiling int `yaml:"blast_radius_ceiling"`

	// CooldownDuration is the per-target window after an executed
	// action during which further actions are blocked.
	CooldownDuration time.Duration `yaml:"cooldown_duration"`

	// ApprovalTimeout bounds how long an incident waits for approval.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// VerifySettleDelay absorbs eventual-consistency lag before the
	// first postcondition poll; VerifyPolls bounds re-query attempts.
	VerifySettleDelay time.Duration `yaml:"verify_settle_delay"`
	VerifyPolls       int           `yaml:"verify_polls"`

	// AdapterTimeout caps each individual tool-adapter call.
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`

	Retry RetryConfig `yaml:"retry"`

	// RunbookPath and RulesPath point at the YAML catalog and the
	// classifier rule file. Empty means builtins only.
	RunbookPath string `yaml:"runbook_path"`
	RulesPath   string `yaml:"rules_path"`

	// AuditLogPath is the hash-chained JSONL audit log location.
	AuditLogPath string `yaml:"audit_log"`

	// StorePath is the sqlite incident store. Empty selects the
	// in-memory store.
	StorePath string `yaml:"store_path"`
}

// AutonomyLevel parses the configured autonomy string, defaulting to
// Shadow on anything unrecognized (fail to the most conservative level).
func (c *Config) AutonomyLevel() model.AutonomyLevel {
	lvl, ok := model.ParseAutonomyLevel(c.Autonomy)
	if !ok {
		return model.Shadow
	}
	return lvl
}

// Default returns the built-in engine configuration.
func Default() *Config {
	return &Config{
		Autonomy: "L0",
		ProtectedAssetClasses: []string{
			"directory_service",
			"data_store",
		},
		ServiceAccountPatterns: []string{
			"svc-*",
			"*-automation",
		},
		BlastRadiusCeiling: 3,
		CooldownDuration:   15 * time.Minute,
		ApprovalTimeout:    30 * time.Minute,
		VerifySettleDelay:  2 * time.Second,
		VerifyPolls:        3,
		AdapterTimeout:     30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}
}

// DefaultPath returns the default engine config location.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// DefaultAuditLogPath returns the default audit log location.
func DefaultAuditLogPath() string {
	return filepath.Join(baseDir(), "audit.jsonl")
}

// DefaultStorePath returns the default incident store location.
func DefaultStorePath() string {
	return filepath.Join(baseDir(), "incidents.db")
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "riposte")
	}
	return filepath.Join(home, ".riposte")
}

// Load reads engine configuration from a YAML file. Empty path falls
// back to the default location. A missing file returns defaults.
// Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 of the raw
// YAML bytes on disk. When no file exists (defaults used), the hash is
// the SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return Default(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read engine config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	h := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}

// Validate rejects configurations that would disable safety floors.
func (c *Config) Validate() error {
	if _, ok := model.ParseAutonomyLevel(c.Autonomy); !ok {
		return fmt.Errorf("invalid autonomy level %q (want L0..L3)", c.Autonomy)
	}
	if c.BlastRadiusCeiling < 1 {
		return fmt.Errorf("blast_radius_ceiling must be >= 1, got %d", c.BlastRadiusCeiling)
	}
	if c.CooldownDuration < 0 {
		return fmt.Errorf("cooldown_duration must not be negative")
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("approval_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
