package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Environment is the deployment environment the process runs in.
type Environment int

const (
	EnvLocal Environment = iota + 1
	EnvDev
	EnvStaging
	EnvProd
)

// ParseEnvironment parses an environment name. Matching is case-insensitive.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return EnvLocal, nil
	case "dev", "development":
		return EnvDev, nil
	case "staging":
		return EnvStaging, nil
	case "prod", "production":
		return EnvProd, nil
	default:
		return 0, fmt.Errorf("unknown environment %q (want local, dev, staging or prod)", s)
	}
}

func (e Environment) String() string {
	switch e {
	case EnvLocal:
		return "local"
	case EnvDev:
		return "dev"
	case EnvStaging:
		return "staging"
	case EnvProd:
		return "prod"
	default:
		return fmt.Sprintf("Environment(%d)", int(e))
	}
}

// IsProduction reports whether secrets may be cached for the process
// lifetime and insecure settings must be refused.
func (e Environment) IsProduction() bool {
	return e == EnvProd
}

// ErrEnvironmentAlreadySet is returned when the environment is set twice.
var ErrEnvironmentAlreadySet = errors.New("environment already set")

// EnvironmentHolder holds the process environment. It is written once at
// startup and read from any goroutine afterwards.
type EnvironmentHolder struct {
	mu  sync.RWMutex
	env Environment
}

// Set stores env. Only the first call succeeds.
func (h *EnvironmentHolder) Set(env Environment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.env != 0 {
		return ErrEnvironmentAlreadySet
	}
	h.env = env
	return nil
}

// Get returns the stored environment, or EnvLocal if none was set.
func (h *EnvironmentHolder) Get() Environment {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.env == 0 {
		return EnvLocal
	}
	return h.env
}
