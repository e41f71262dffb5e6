package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/agentopt/internal/domain"
)

// DefaultConfigFile is the path checked for configuration.
const DefaultConfigFile = "agentopt.yaml"

// Load returns a Config using the hierarchy: defaults < preset < file < ENV.
// The config file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile, "")
}

// LoadFrom returns a Config loaded from path. The file may be YAML or
// JSON with comments (.json, .jsonc). The preset argument wins over
// AGENTOPT_PRESET, which wins over the file's preset key.
func LoadFrom(path, preset string) (*Config, error) {
	cfg := Defaults()

	data, err := readConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	name := preset
	if name == "" {
		name = os.Getenv("AGENTOPT_PRESET")
	}
	if name == "" && data != nil {
		var head struct {
			Preset string `yaml:"preset"`
		}
		if err := yaml.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("config file: parse %s: %w", path, err)
		}
		name = head.Preset
	}
	if err := ApplyPreset(&cfg, name); err != nil {
		return nil, fmt.Errorf("config preset: %w", err)
	}

	if data != nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config file: parse %s: %w", path, err)
		}
		// The file's preset key only selects; it must not mask an override.
		cfg.Preset = strings.ToLower(strings.TrimSpace(name))
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// readConfigFile returns the file contents normalised to YAML-compatible
// bytes, or nil if the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are gone.
		return jsonc.ToJSON(data), nil
	default:
		return data, nil
	}
}

// loadYAML reads the file at path and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := readConfigFile(path)
	if err != nil || data == nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTOPT_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTOPT_CORS_ORIGIN")
	setFloat64(&cfg.Server.TaskRate, "AGENTOPT_TASK_RATE")
	setInt(&cfg.Server.TaskBurst, "AGENTOPT_TASK_BURST")
	setString(&cfg.Logging.Level, "AGENTOPT_LOG_LEVEL")
	setString(&cfg.Logging.Format, "AGENTOPT_LOG_FORMAT")
	setString(&cfg.Logging.Service, "AGENTOPT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTOPT_LOG_ASYNC")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTOPT_PG_MAX_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "AGENTOPT_NATS_SUBJECT_PREFIX")
	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTOPT_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "AGENTOPT_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "AGENTOPT_CACHE_L2_TTL")
	setInt(&cfg.Breaker.MaxFailures, "AGENTOPT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTOPT_BREAKER_TIMEOUT")
	setBool(&cfg.Telemetry.Enabled, "AGENTOPT_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.MCP.Enabled, "AGENTOPT_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "AGENTOPT_MCP_ADDR")
	setString(&cfg.Executor.URL, "AGENTOPT_EXECUTOR_URL")
	setStrings(&cfg.Executor.Models, "AGENTOPT_EXECUTOR_MODELS")
	setDuration(&cfg.Executor.Timeout, "AGENTOPT_EXECUTOR_TIMEOUT")
	setString(&cfg.Executor.Token, "AGENTOPT_EXECUTOR_TOKEN")

	// Optimization
	o := &cfg.Optimization
	setBool(&o.LearningEnabled, "AGENTOPT_LEARNING_ENABLED")
	setFloat64(&o.LearningRate, "AGENTOPT_LEARNING_RATE")
	setDuration(&o.PatternAnalysisInterval, "AGENTOPT_PATTERN_ANALYSIS_INTERVAL")
	setInt(&o.MinSamplesForLearning, "AGENTOPT_MIN_SAMPLES_FOR_LEARNING")
	setBool(&o.PerformanceMonitoringEnabled, "AGENTOPT_PERFORMANCE_MONITORING_ENABLED")
	setDuration(&o.PerformanceCheckInterval, "AGENTOPT_PERFORMANCE_CHECK_INTERVAL")
	setBool(&o.HealthMonitoringEnabled, "AGENTOPT_HEALTH_MONITORING_ENABLED")
	setDuration(&o.HealthCheckInterval, "AGENTOPT_HEALTH_CHECK_INTERVAL")
	setBool(&o.AutoRecoveryEnabled, "AGENTOPT_AUTO_RECOVERY_ENABLED")
	setInt(&o.ContextRetentionDays, "AGENTOPT_CONTEXT_RETENTION_DAYS")
	setInt(&o.MaxContextEntries, "AGENTOPT_MAX_CONTEXT_ENTRIES")
	setDuration(&o.ShutdownGracePeriod, "AGENTOPT_SHUTDOWN_GRACE_PERIOD")
	setString(&o.DefaultAgent, "AGENTOPT_DEFAULT_AGENT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return fmt.Errorf("%w: server.port is required", domain.ErrConfigValidation)
	}
	if cfg.Server.TaskRate < 0 || (cfg.Server.TaskRate > 0 && cfg.Server.TaskBurst < 1) {
		return fmt.Errorf("%w: server.task_burst must be >= 1 when task_rate is set", domain.ErrConfigValidation)
	}
	switch cfg.Logging.Format {
	case "", "json", "text", "auto":
	default:
		return fmt.Errorf("%w: logging.format must be json, text or auto", domain.ErrConfigValidation)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return fmt.Errorf("%w: breaker.max_failures must be >= 1", domain.ErrConfigValidation)
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return fmt.Errorf("%w: postgres.max_conns must be >= 1", domain.ErrConfigValidation)
	}
	return cfg.Optimization.Validate()
}

// Validate checks the control loop settings. Every returned error wraps
// domain.ErrConfigValidation.
func (o *Optimization) Validate() error {
	var problems []string
	if o.LearningRate <= 0 || o.LearningRate > 1 {
		problems = append(problems, "learning_rate must be in (0, 1]")
	}
	if o.ContextRetentionDays <= 0 {
		problems = append(problems, "context_retention_days must be > 0")
	}
	if o.LearningEnabled && o.PatternAnalysisInterval <= 0 {
		problems = append(problems, "pattern_analysis_interval must be > 0")
	}
	if o.PerformanceMonitoringEnabled && o.PerformanceCheckInterval <= 0 {
		problems = append(problems, "performance_check_interval must be > 0")
	}
	if o.HealthMonitoringEnabled && o.HealthCheckInterval <= 0 {
		problems = append(problems, "health_check_interval must be > 0")
	}
	if o.AutoContextCleanup && o.ContextCleanupInterval <= 0 {
		problems = append(problems, "context_cleanup_interval must be > 0")
	}
	if o.MinSamplesForLearning < 1 {
		problems = append(problems, "min_samples_for_learning must be >= 1")
	}
	if o.MaxLearningRecords < o.MinSamplesForLearning {
		problems = append(problems, "max_learning_records must be >= min_samples_for_learning")
	}
	if o.MaxContextEntries < 1 {
		problems = append(problems, "max_context_entries must be >= 1")
	}
	if o.RecencyWeight < 0 || o.RecencyWeight > 1 {
		problems = append(problems, "recency_weight must be in [0, 1]")
	}
	w := o.RecommendationWeights
	if w.Success < 0 || w.Speed < 0 || w.Quality < 0 || w.Success+w.Speed+w.Quality == 0 {
		problems = append(problems, "recommendation_weights must be non-negative and not all zero")
	}
	s := o.ScoreWeights
	if s.Success < 0 || s.Balance < 0 || s.Responsiveness < 0 || s.Success+s.Balance+s.Responsiveness == 0 {
		problems = append(problems, "score_weights must be non-negative and not all zero")
	}
	if o.FailureRateThreshold <= 0 || o.FailureRateThreshold > 1 {
		problems = append(problems, "failure_rate_threshold must be in (0, 1]")
	}
	if o.LoadMultiple < 1 {
		problems = append(problems, "load_multiple must be >= 1")
	}
	if o.ResponseTimeThreshold <= 0 {
		problems = append(problems, "response_time_threshold must be > 0")
	}
	if o.ShutdownGracePeriod < 0 {
		problems = append(problems, "shutdown_grace_period must be >= 0")
	}

	t := o.Thresholds
	if t.FailureRateSoft < 0 || t.FailureRateHard > 1 || t.FailureRateSoft > t.FailureRateHard {
		problems = append(problems, "thresholds: need 0 <= failure_rate_soft <= failure_rate_hard <= 1")
	}
	if t.ContextErrorSoft < 0 || t.ContextErrorHard > 1 || t.ContextErrorSoft > t.ContextErrorHard {
		problems = append(problems, "thresholds: need 0 <= context_error_soft <= context_error_hard <= 1")
	}
	if t.ScoreHardMin > t.ScoreSoftMin {
		problems = append(problems, "thresholds: score_hard_min must be <= score_soft_min")
	}
	if t.HealthWindow < 1 {
		problems = append(problems, "thresholds: health_window must be >= 1")
	}
	if t.MinHealthSamples < 1 {
		problems = append(problems, "thresholds: min_health_samples must be >= 1")
	}
	if t.ResponseTimeHard < o.ResponseTimeThreshold {
		problems = append(problems, "thresholds: response_time_hard must be >= response_time_threshold")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfigValidation, strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
