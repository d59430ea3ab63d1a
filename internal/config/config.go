// Package config resolves om's runtime configuration from defaults, an
// optional config.yaml, an optional env file, and environment variables,
// in that order of increasing precedence.
package config

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// DataDir holds the memory files the compression tool maintains
	// (observations.md, reflections.md).
	DataDir string `yaml:"data_dir"`
	// StateDir holds coordinator-owned state: state.json, locks/, logs/.
	StateDir string `yaml:"state_dir"`

	// ClaudeProjectsDir is scanned for Claude Code transcripts.
	ClaudeProjectsDir string `yaml:"claude_projects_dir"`
	// CodexHome contains the Codex CLI sessions/ tree.
	CodexHome string `yaml:"codex_home"`

	// ObserverCommand is the external compression tool. Invoked as
	// `<cmd> observe --transcript <path> --source <agent>`.
	ObserverCommand string `yaml:"observer_command"`

	// ThrottleWindowSeconds bounds checkpoint frequency per transcript.
	// 0 disables time-based throttling.
	ThrottleWindowSeconds int `yaml:"throttle_window_seconds"`
	// StaleLockMinutes is the age past which an unreleased lock is presumed
	// abandoned and may be reclaimed. 0 disables reclamation.
	StaleLockMinutes int `yaml:"stale_lock_minutes"`
	// DisableCheckpoints turns off checkpoint-kind triggering entirely.
	// Forced events still run.
	DisableCheckpoints bool `yaml:"disable_checkpoints"`

	// ScanSchedule is the daemon's cron expression for periodic transcript
	// scans (5-field). Empty disables scheduled scans.
	ScanSchedule string `yaml:"scan_schedule"`
	// ReflectSchedule is the daemon's cron expression for the daily
	// consolidation trigger. Empty disables it.
	ReflectSchedule string `yaml:"reflect_schedule"`
	// ScanMaxAgeHours limits discovery to transcripts modified recently.
	ScanMaxAgeHours int `yaml:"scan_max_age_hours"`

	LogLevel string `yaml:"log_level"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig controls the optional OpenTelemetry pipeline. Disabled by
// default; the hook path never pays for it.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlp-http", "stdout", "none"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

func (c Config) ThrottleWindow() time.Duration {
	return time.Duration(c.ThrottleWindowSeconds) * time.Second
}

func (c Config) StaleLockAfter() time.Duration {
	return time.Duration(c.StaleLockMinutes) * time.Minute
}

func (c Config) StatePath() string {
	return filepath.Join(c.StateDir, "state.json")
}

func (c Config) LockRoot() string {
	return filepath.Join(c.StateDir, "locks")
}

func (c Config) LogDir() string {
	return filepath.Join(c.StateDir, "logs")
}

func (c Config) ObservationsPath() string {
	return filepath.Join(c.DataDir, "observations.md")
}

func (c Config) ReflectionsPath() string {
	return filepath.Join(c.DataDir, "reflections.md")
}

// Fingerprint returns a stable hash of the coordination-relevant settings,
// logged once per invocation so audit entries can be tied to a config shape.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "throttle=%d|stale=%d|checkpoints=%t|observer=%s",
		c.ThrottleWindowSeconds, c.StaleLockMinutes, !c.DisableCheckpoints, c.ObserverCommand)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return Config{
		DataDir:               filepath.Join(xdgDataHome(home), "om"),
		StateDir:              filepath.Join(xdgStateHome(home), "om"),
		ClaudeProjectsDir:     filepath.Join(home, ".claude", "projects"),
		CodexHome:             filepath.Join(home, ".codex"),
		ObserverCommand:       "om-llm",
		ThrottleWindowSeconds: 900,
		StaleLockMinutes:      60,
		ScanSchedule:          "*/15 * * * *",
		ReflectSchedule:       "0 4 * * *",
		ScanMaxAgeHours:       24,
		LogLevel:              "info",
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "om",
			SampleRate:  1.0,
		},
	}
}

func xdgDataHome(home string) string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".local", "share")
}

func xdgStateHome(home string) string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".local", "state")
}

// ConfigDir returns the directory holding config.yaml and the env file.
// OM_HOME overrides everything: config, data, and state all live under it.
func ConfigDir() string {
	if override := os.Getenv("OM_HOME"); override != "" {
		return override
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "om")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".config", "om")
}

// Load resolves the effective configuration. The env file is seeded into the
// process environment first (existing variables win), then config.yaml is
// merged over the defaults, then OM_* environment variables are applied on
// top. Load never fails on a missing or unreadable config file.
func Load() (Config, error) {
	cfgDir := ConfigDir()
	LoadEnvFile(filepath.Join(cfgDir, "env"))

	cfg := defaultConfig()
	if override := os.Getenv("OM_HOME"); override != "" {
		cfg.DataDir = filepath.Join(override, "data")
		cfg.StateDir = filepath.Join(override, "state")
	}

	if data, err := os.ReadFile(filepath.Join(cfgDir, "config.yaml")); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create state dir: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OM_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("OM_CLAUDE_PROJECTS_DIR"); v != "" {
		cfg.ClaudeProjectsDir = v
	}
	if v := os.Getenv("OM_CODEX_HOME"); v != "" {
		cfg.CodexHome = v
	}
	if v := os.Getenv("OM_OBSERVER_COMMAND"); v != "" {
		cfg.ObserverCommand = v
	}
	if v := os.Getenv("OM_THROTTLE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ThrottleWindowSeconds = n
		}
	}
	if v := os.Getenv("OM_STALE_LOCK_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.StaleLockMinutes = n
		}
	}
	if v := os.Getenv("OM_DISABLE_CHECKPOINTS"); v != "" {
		cfg.DisableCheckpoints = isTruthy(v)
	}
	if v := os.Getenv("OM_SCAN_SCHEDULE"); v != "" {
		cfg.ScanSchedule = v
	}
	if v := os.Getenv("OM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// LoadEnvFile reads KEY=VALUE lines from path into the process environment.
// Variables already present in the environment are not overwritten. Missing
// or unreadable files are ignored.
func LoadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.Trim(strings.TrimSpace(line[eq+1:]), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
