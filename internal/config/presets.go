package config

import (
	"fmt"
	"strings"
	"time"
)

// Preset names.
const (
	PresetDevelopment = "development"
	PresetProduction  = "production"
	PresetTesting     = "testing"
	PresetLightweight = "lightweight"
)

// ApplyPreset overlays a named optimization preset onto cfg.
// An empty name is a no-op.
func ApplyPreset(cfg *Config, name string) error {
	o := &cfg.Optimization
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return nil
	case PresetDevelopment:
		o.LearningRate = 0.2
		o.PatternAnalysisInterval = time.Minute
		o.PerformanceCheckInterval = 30 * time.Second
		o.HealthCheckInterval = time.Minute
		o.ContextRetentionDays = 3
		cfg.Logging.Level = "debug"
	case PresetProduction:
		o.LearningRate = 0.05
		o.PatternAnalysisInterval = 10 * time.Minute
		o.PerformanceCheckInterval = 2 * time.Minute
		o.HealthCheckInterval = 5 * time.Minute
		o.ContextRetentionDays = 30
		o.MaxContextEntries = 50000
		o.MinSamplesForLearning = 20
	case PresetTesting:
		o.LearningRate = 0.5
		o.PatternAnalysisInterval = 5 * time.Second
		o.PerformanceCheckInterval = 2 * time.Second
		o.HealthCheckInterval = 3 * time.Second
		o.ContextRetentionDays = 1
		o.MaxContextEntries = 1000
		o.MinSamplesForLearning = 3
		o.ShutdownGracePeriod = 2 * time.Second
	case PresetLightweight:
		o.LearningEnabled = false
		o.PerformanceMonitoringEnabled = false
		o.AutoRecoveryEnabled = false
		o.AutoContextCleanup = false
		o.HealthCheckInterval = 10 * time.Minute
		o.MaxContextEntries = 1000
		o.ContextRetentionDays = 1
	default:
		return fmt.Errorf("unknown preset %q", name)
	}
	cfg.Preset = strings.ToLower(strings.TrimSpace(name))
	return nil
}
