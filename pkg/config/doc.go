// Package config loads and saves the cloudhaul CLI configuration: identity
// provider client settings, requested scopes, and per-user file locations.
package config
