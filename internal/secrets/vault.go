// Package secrets holds credentials that can be swapped at runtime,
// for example on SIGHUP, without restarting the server.
package secrets

import (
	"fmt"
	"sync"
)

// KeyExecutorToken is the bearer token sent to the executor server.
const KeyExecutorToken = "executor_token"

// Loader retrieves the current secret values.
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Source returns an accessor for key that always reads the current value.
func (v *Vault) Source(key string) func() string {
	return func() string { return v.Get(key) }
}

// Reload calls the loader and swaps in the new values atomically. It
// returns the keys whose value changed. On error the old values are kept.
func (v *Vault) Reload() ([]string, error) {
	next, err := v.loader()
	if err != nil {
		return nil, fmt.Errorf("reload secrets: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	var changed []string
	for k, nv := range next {
		if v.values[k] != nv {
			changed = append(changed, k)
		}
	}
	for k := range v.values {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}
	v.values = next
	return changed, nil
}
