// Package secrets resolves provider credentials (agent API keys, tracker
// tokens) through a reloadable in-memory store, so the engine can pick up
// rotated keys without a restart.
package secrets

import (
	"fmt"
	"os"
	"sync"
)

// Loader fetches secrets from one source.
type Loader func() (map[string]string, error)

// FromEnv loads the named environment variables. Unset or empty variables
// are omitted.
func FromEnv(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders win on key collision.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		merged := make(map[string]string)
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range vals {
				merged[k] = v
			}
		}
		return merged, nil
	}
}

// Vault holds resolved secrets and supports atomic reload.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// New creates a Vault, calling the loader once to populate it.
func New(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string when absent.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Reload re-runs the loader and swaps in the result. On loader error the
// current values are kept.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}
