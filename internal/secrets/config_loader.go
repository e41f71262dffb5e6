package secrets

import (
	"fmt"
	"strings"

	"github.com/Strob0t/agentopt/internal/config"
)

// ConfigLoader returns a Loader that re-reads the configuration from path
// (including AGENTOPT_* overrides) and extracts the secrets.
func ConfigLoader(path, preset string) Loader {
	return func() (map[string]string, error) {
		cfg, err := config.LoadFrom(path, preset)
		if err != nil {
			return nil, err
		}
		return fromConfig(cfg)
	}
}

// Static returns a Loader that always yields the values in cfg.
func Static(cfg *config.Config) Loader {
	return func() (map[string]string, error) { return fromConfig(cfg) }
}

func fromConfig(cfg *config.Config) (map[string]string, error) {
	tok := strings.TrimSpace(cfg.Executor.Token)
	if strings.ContainsAny(tok, " \t\r\n") {
		return nil, fmt.Errorf("%s: must not contain whitespace", KeyExecutorToken)
	}
	return map[string]string{KeyExecutorToken: tok}, nil
}
