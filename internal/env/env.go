// Package env resolves the deployment environment the process runs in.
package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/ttsd/internal/envvar"
)

// Environment is the deployment environment.
type Environment string

const (
	// Development enables colored console logs.
	Development Environment = "development"

	// Production switches logs to JSON.
	Production Environment = "production"
)

// FromEnv reads TTSD_ENV. Unknown or empty values resolve to Development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.TtsdEnv))
}

// Parse maps a raw value to an Environment.
func Parse(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return Production
	default:
		return Development
	}
}

// IsProduction reports whether e is Production.
func (e Environment) IsProduction() bool {
	return e == Production
}
