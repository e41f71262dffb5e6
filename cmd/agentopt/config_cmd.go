package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/agentopt/internal/config"
)

// runConfig validates the configuration and prints the effective values
// after presets, the file and environment overrides are applied. Secrets
// are masked.
func runConfig(args []string) error {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to a YAML or JSONC config file")
	preset := fs.String("preset", "", "configuration preset")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: agentopt config [options]

Validates the configuration and prints the effective values.

Options:
%s`, fs.FlagUsages())
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath, *preset)
	if err != nil {
		return err
	}
	if cfg.Executor.Token != "" {
		cfg.Executor.Token = "****"
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
