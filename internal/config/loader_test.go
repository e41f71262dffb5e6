package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/agentopt/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Optimization.LearningRate != 0.1 {
		t.Errorf("expected learning_rate 0.1, got %v", cfg.Optimization.LearningRate)
	}
	if cfg.Optimization.ContextRetentionDays != 7 {
		t.Errorf("expected retention 7 days, got %d", cfg.Optimization.ContextRetentionDays)
	}
	if cfg.Optimization.ContextRetention() != 7*24*time.Hour {
		t.Errorf("unexpected retention duration %v", cfg.Optimization.ContextRetention())
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
logging:
  level: "debug"
optimization:
  learning_rate: 0.25
  health_check_interval: 45s
  thresholds:
    failure_rate_hard: 0.6
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Optimization.LearningRate != 0.25 {
		t.Errorf("expected learning_rate 0.25, got %v", cfg.Optimization.LearningRate)
	}
	if cfg.Optimization.HealthCheckInterval != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Optimization.HealthCheckInterval)
	}
	if cfg.Optimization.Thresholds.FailureRateHard != 0.6 {
		t.Errorf("expected hard threshold 0.6, got %v", cfg.Optimization.Thresholds.FailureRateHard)
	}
	// Unchanged fields keep defaults
	if cfg.Optimization.Thresholds.FailureRateSoft != 0.2 {
		t.Errorf("expected default soft threshold, got %v", cfg.Optimization.Thresholds.FailureRateSoft)
	}
}

func TestLoadJSONCOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentopt.jsonc")

	content := `{
  // comments are allowed
  "optimization": {
    "context_retention_days": 14,
    "shutdown_grace_period": "5s",
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path, "")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Optimization.ContextRetentionDays != 14 {
		t.Errorf("expected 14, got %d", cfg.Optimization.ContextRetentionDays)
	}
	if cfg.Optimization.ShutdownGracePeriod != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.Optimization.ShutdownGracePeriod)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing file should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("AGENTOPT_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("AGENTOPT_LOG_LEVEL", "warn")
	t.Setenv("AGENTOPT_BREAKER_TIMEOUT", "1m")
	t.Setenv("AGENTOPT_LEARNING_RATE", "0.3")
	t.Setenv("AGENTOPT_AUTO_RECOVERY_ENABLED", "false")
	t.Setenv("AGENTOPT_EXECUTOR_MODELS", "llama3, qwen2.5 ,")
	t.Setenv("AGENTOPT_EXECUTOR_TOKEN", "tok")
	t.Setenv("AGENTOPT_LOG_FORMAT", "text")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Optimization.LearningRate != 0.3 {
		t.Errorf("expected learning_rate 0.3, got %v", cfg.Optimization.LearningRate)
	}
	if cfg.Optimization.AutoRecoveryEnabled {
		t.Error("expected auto recovery disabled")
	}
	if len(cfg.Executor.Models) != 2 || cfg.Executor.Models[1] != "qwen2.5" {
		t.Errorf("unexpected models %v", cfg.Executor.Models)
	}
	if cfg.Executor.Token != "tok" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected token %q or log format %q", cfg.Executor.Token, cfg.Logging.Format)
	}
}

func TestLoadFrom_FullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
preset: testing
optimization:
  context_retention_days: 5
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTOPT_LEARNING_RATE", "0.9")

	cfg, err := LoadFrom(yamlPath, "")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Preset != PresetTesting {
		t.Errorf("expected testing preset, got %q", cfg.Preset)
	}
	// Preset value, untouched by file or env.
	if cfg.Optimization.MinSamplesForLearning != 3 {
		t.Errorf("expected preset min samples 3, got %d", cfg.Optimization.MinSamplesForLearning)
	}
	// File beats preset.
	if cfg.Optimization.ContextRetentionDays != 5 {
		t.Errorf("expected file retention 5, got %d", cfg.Optimization.ContextRetentionDays)
	}
	// Env beats everything.
	if cfg.Optimization.LearningRate != 0.9 {
		t.Errorf("expected env learning rate 0.9, got %v", cfg.Optimization.LearningRate)
	}
}

func TestLoadFrom_PresetArgumentWins(t *testing.T) {
	t.Setenv("AGENTOPT_PRESET", "production")

	cfg, err := LoadFrom("", PresetLightweight)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Preset != PresetLightweight {
		t.Errorf("expected lightweight, got %q", cfg.Preset)
	}
	if cfg.Optimization.LearningEnabled {
		t.Error("lightweight preset should disable learning")
	}
}

func TestLoadFrom_UnknownPreset(t *testing.T) {
	if _, err := LoadFrom("", "turbo"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "task burst missing",
			modify: func(c *Config) { c.Server.TaskBurst = 0 },
			errMsg: "server.task_burst",
		},
		{
			name:   "unknown log format",
			modify: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: "logging.format",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero learning rate",
			modify: func(c *Config) { c.Optimization.LearningRate = 0 },
			errMsg: "learning_rate must be in (0, 1]",
		},
		{
			name:   "learning rate above one",
			modify: func(c *Config) { c.Optimization.LearningRate = 1.5 },
			errMsg: "learning_rate must be in (0, 1]",
		},
		{
			name:   "zero retention",
			modify: func(c *Config) { c.Optimization.ContextRetentionDays = 0 },
			errMsg: "context_retention_days must be > 0",
		},
		{
			name:   "soft above hard",
			modify: func(c *Config) { c.Optimization.Thresholds.FailureRateSoft = 0.9 },
			errMsg: "failure_rate_soft <= failure_rate_hard",
		},
		{
			name:   "all ranking weights zero",
			modify: func(c *Config) { c.Optimization.RecommendationWeights = Weights{} },
			errMsg: "recommendation_weights",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errMsg)
			}
			if !errors.Is(err, domain.ErrConfigValidation) {
				t.Errorf("expected ErrConfigValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected %q in %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestPresetsValidate(t *testing.T) {
	for _, name := range []string{PresetDevelopment, PresetProduction, PresetTesting, PresetLightweight} {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			if err := ApplyPreset(&cfg, name); err != nil {
				t.Fatal(err)
			}
			if err := validate(&cfg); err != nil {
				t.Errorf("preset %s should validate, got %v", name, err)
			}
		})
	}
}
