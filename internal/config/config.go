// Package config provides hierarchical configuration loading for agentopt.
// Precedence: defaults < preset < config file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the agentopt service.
type Config struct {
	Preset       string       `yaml:"preset" json:"preset"`
	Server       Server       `yaml:"server" json:"server"`
	Logging      Logging      `yaml:"logging" json:"logging"`
	Postgres     Postgres     `yaml:"postgres" json:"postgres"`
	NATS         NATS         `yaml:"nats" json:"nats"`
	Cache        Cache        `yaml:"cache" json:"cache"`
	Breaker      Breaker      `yaml:"breaker" json:"breaker"`
	Telemetry    Telemetry    `yaml:"telemetry" json:"telemetry"`
	MCP          MCP          `yaml:"mcp" json:"mcp"`
	Executor     Executor     `yaml:"executor" json:"executor"`
	Optimization Optimization `yaml:"optimization" json:"optimization"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port         string        `yaml:"port" json:"port"`
	CORSOrigin   string        `yaml:"cors_origin" json:"cors_origin"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	TaskRate     float64       `yaml:"task_rate" json:"task_rate"` // task submissions per second and session, 0 = unlimited
	TaskBurst    int           `yaml:"task_burst" json:"task_burst"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level" json:"level"`
	Format  string `yaml:"format" json:"format"` // json, text or auto (text on a terminal)
	Service string `yaml:"service" json:"service"`
	Async   bool   `yaml:"async" json:"async"`
}

// Postgres holds the optional durable context store connection.
// An empty DSN keeps context entries in memory.
type Postgres struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxConns        int32         `yaml:"max_conns" json:"max_conns"`
	MinConns        int32         `yaml:"min_conns" json:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" json:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check" json:"health_check"`
}

// NATS holds the event forwarding connection. An empty URL disables it.
type NATS struct {
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// Cache holds recommendation cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb" json:"l1_max_size_mb"`
	L1TTL       time.Duration `yaml:"l1_ttl" json:"l1_ttl"`
	L2Bucket    string        `yaml:"l2_bucket" json:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl" json:"l2_ttl"`
}

// Breaker holds per-agent circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures" json:"max_failures"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Insecure    bool   `yaml:"insecure" json:"insecure"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// MCP holds the MCP tool server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// Executor holds the default HTTP executor configuration.
type Executor struct {
	URL     string        `yaml:"url" json:"url"`
	Models  []string      `yaml:"models" json:"models"` // one agent is registered per model
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Token is sent as a bearer token to the executor server. It is
	// re-read on SIGHUP.
	Token string `yaml:"token" json:"-"`
}

// Optimization holds the control loop configuration.
type Optimization struct {
	// Learning
	LearningEnabled         bool          `yaml:"learning_enabled" json:"learning_enabled"`
	LearningRate            float64       `yaml:"learning_rate" json:"learning_rate"`
	PatternAnalysisInterval time.Duration `yaml:"pattern_analysis_interval" json:"pattern_analysis_interval"`
	MinSamplesForLearning   int           `yaml:"min_samples_for_learning" json:"min_samples_for_learning"`
	MaxLearningRecords      int           `yaml:"max_learning_records" json:"max_learning_records"`
	RecommendationWeights   Weights       `yaml:"recommendation_weights" json:"recommendation_weights"`

	// Performance
	PerformanceMonitoringEnabled bool          `yaml:"performance_monitoring_enabled" json:"performance_monitoring_enabled"`
	PerformanceCheckInterval     time.Duration `yaml:"performance_check_interval" json:"performance_check_interval"`
	LoadBalancingEnabled         bool          `yaml:"load_balancing_enabled" json:"load_balancing_enabled"`
	FailureRateThreshold         float64       `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	LoadMultiple                 float64       `yaml:"load_multiple" json:"load_multiple"`
	ResponseTimeThreshold        time.Duration `yaml:"response_time_threshold" json:"response_time_threshold"`
	ScoreWeights                 ScoreWeights  `yaml:"score_weights" json:"score_weights"`

	// Context
	ContextRetentionDays   int           `yaml:"context_retention_days" json:"context_retention_days"`
	MaxContextEntries      int           `yaml:"max_context_entries" json:"max_context_entries"`
	AutoContextCleanup     bool          `yaml:"auto_context_cleanup" json:"auto_context_cleanup"`
	ContextCleanupInterval time.Duration `yaml:"context_cleanup_interval" json:"context_cleanup_interval"`
	RecencyWeight          float64       `yaml:"recency_weight" json:"recency_weight"`

	// Health
	HealthMonitoringEnabled bool          `yaml:"health_monitoring_enabled" json:"health_monitoring_enabled"`
	HealthCheckInterval     time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	AutoRecoveryEnabled     bool          `yaml:"auto_recovery_enabled" json:"auto_recovery_enabled"`
	Thresholds              Thresholds    `yaml:"thresholds" json:"thresholds"`

	// Lifecycle
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" json:"shutdown_grace_period"`
	DefaultAgent        string        `yaml:"default_agent" json:"default_agent"`
}

// Weights are the agent ranking weights used by the learning engine.
type Weights struct {
	Success float64 `yaml:"success" json:"success"`
	Speed   float64 `yaml:"speed" json:"speed"`
	Quality float64 `yaml:"quality" json:"quality"`
}

// ScoreWeights are the optimization score component weights.
type ScoreWeights struct {
	Success        float64 `yaml:"success" json:"success"`
	Balance        float64 `yaml:"balance" json:"balance"`
	Responsiveness float64 `yaml:"responsiveness" json:"responsiveness"`
}

// Thresholds holds the soft (warning) and hard (error) health thresholds.
type Thresholds struct {
	FailureRateSoft      float64       `yaml:"failure_rate_soft" json:"failure_rate_soft"`
	FailureRateHard      float64       `yaml:"failure_rate_hard" json:"failure_rate_hard"`
	HealthWindow         int           `yaml:"health_window" json:"health_window"`
	MinHealthSamples     int           `yaml:"min_health_samples" json:"min_health_samples"`
	ScoreSoftMin         float64       `yaml:"score_soft_min" json:"score_soft_min"`
	ScoreHardMin         float64       `yaml:"score_hard_min" json:"score_hard_min"`
	ScoreDeclineRate     float64       `yaml:"score_decline_rate" json:"score_decline_rate"`
	ContextErrorSoft     float64       `yaml:"context_error_soft" json:"context_error_soft"`
	ContextErrorHard     float64       `yaml:"context_error_hard" json:"context_error_hard"`
	ResponseTimeHard     time.Duration `yaml:"response_time_hard" json:"response_time_hard"`
	DeactivationCooldown time.Duration `yaml:"deactivation_cooldown" json:"deactivation_cooldown"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:         "8080",
			CORSOrigin:   "http://localhost:3000",
			WriteTimeout: 5 * time.Minute,
			TaskRate:     10,
			TaskBurst:    20,
		},
		Logging: Logging{
			Level:   "info",
			Format:  "json",
			Service: "agentopt",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			SubjectPrefix: "agentopt",
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			L1TTL:       10 * time.Minute,
			L2Bucket:    "AGENTOPT_RECOMMENDATIONS",
			L2TTL:       time.Hour,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "agentopt",
		},
		MCP: MCP{
			Addr: ":8090",
		},
		Executor: Executor{
			URL:     "http://localhost:11434",
			Timeout: 2 * time.Minute,
		},
		Optimization: DefaultOptimization(),
	}
}

// DefaultOptimization returns the control loop defaults.
func DefaultOptimization() Optimization {
	return Optimization{
		LearningEnabled:         true,
		LearningRate:            0.1,
		PatternAnalysisInterval: 5 * time.Minute,
		MinSamplesForLearning:   10,
		MaxLearningRecords:      1000,
		RecommendationWeights:   Weights{Success: 0.5, Speed: 0.2, Quality: 0.3},

		PerformanceMonitoringEnabled: true,
		PerformanceCheckInterval:     time.Minute,
		LoadBalancingEnabled:         true,
		FailureRateThreshold:         0.3,
		LoadMultiple:                 2.0,
		ResponseTimeThreshold:        30 * time.Second,
		ScoreWeights:                 ScoreWeights{Success: 0.5, Balance: 0.25, Responsiveness: 0.25},

		ContextRetentionDays:   7,
		MaxContextEntries:      10000,
		AutoContextCleanup:     true,
		ContextCleanupInterval: time.Hour,
		RecencyWeight:          0.6,

		HealthMonitoringEnabled: true,
		HealthCheckInterval:     2 * time.Minute,
		AutoRecoveryEnabled:     true,
		Thresholds: Thresholds{
			FailureRateSoft:      0.2,
			FailureRateHard:      0.5,
			HealthWindow:         50,
			MinHealthSamples:     5,
			ScoreSoftMin:         0.5,
			ScoreHardMin:         0.2,
			ScoreDeclineRate:     0.1,
			ContextErrorSoft:     0.05,
			ContextErrorHard:     0.25,
			ResponseTimeHard:     2 * time.Minute,
			DeactivationCooldown: 10 * time.Minute,
		},

		ShutdownGracePeriod: 30 * time.Second,
	}
}

// ContextRetention returns the retention window as a duration.
func (o Optimization) ContextRetention() time.Duration {
	return time.Duration(o.ContextRetentionDays) * 24 * time.Hour
}
