package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/cloudhaul/cloudhaul/pkg/auth"
)

const (
	VersionV1 = "v1"

	defaultIssuer = "https://accounts.google.com"
)

var defaultScopes = []string{
	"openid",
	"email",
	"https://www.googleapis.com/auth/drive.readonly",
}

type Config struct {
	Version  string   `yaml:"version"`
	Provider Provider `yaml:"provider"`
	Settings Settings `yaml:"settings,omitempty"`
}

// Provider holds the OAuth client registration for the identity provider.
// The client secret can be given inline, via an environment variable name,
// or via a file path.
type Provider struct {
	Issuer           string   `yaml:"issuer,omitempty"`
	ClientID         string   `yaml:"client-id"`
	ClientSecret     string   `yaml:"client-secret,omitempty"`
	ClientSecretEnv  string   `yaml:"client-secret-env,omitempty"`
	ClientSecretFile string   `yaml:"client-secret-file,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty"`
	AuthURL          string   `yaml:"auth-url,omitempty"`
	TokenURL         string   `yaml:"token-url,omitempty"`
	DeviceAuthURL    string   `yaml:"device-auth-url,omitempty"`
	RevokeURL        string   `yaml:"revoke-url,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	LoginMethod  string `yaml:"login-method,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Provider: Provider{
			Issuer: defaultIssuer,
			Scopes: append([]string(nil), defaultScopes...),
		},
		Settings: Settings{
			OutputFormat: "text",
			LoginMethod:  "auto",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if cfg.Provider.Issuer == "" {
		cfg.Provider.Issuer = defaultIssuer
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

// ResolveProvider turns the file configuration into the provider settings
// the auth package consumes, resolving the client secret indirections.
func (c *Config) ResolveProvider() (auth.ProviderConfig, error) {
	secret, err := ResolveClientSecret(c.Provider.ClientSecret, c.Provider.ClientSecretEnv, c.Provider.ClientSecretFile)
	if err != nil {
		return auth.ProviderConfig{}, err
	}
	scopes := c.Provider.Scopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), defaultScopes...)
	}
	return auth.ProviderConfig{
		Issuer:        c.Provider.Issuer,
		ClientID:      c.Provider.ClientID,
		ClientSecret:  secret,
		Scopes:        scopes,
		AuthURL:       c.Provider.AuthURL,
		TokenURL:      c.Provider.TokenURL,
		DeviceAuthURL: c.Provider.DeviceAuthURL,
		RevokeURL:     c.Provider.RevokeURL,
	}, nil
}

// ResolveClientSecret picks the first configured source: inline value, named
// environment variable, then file.
func ResolveClientSecret(secret, secretEnv, secretFile string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if secretEnv != "" {
		value := strings.TrimSpace(os.Getenv(secretEnv))
		if value == "" {
			return "", fmt.Errorf("client secret env var not set: %s", secretEnv)
		}
		return value, nil
	}
	if secretFile != "" {
		content, err := os.ReadFile(secretFile)
		if err != nil {
			return "", fmt.Errorf("failed to read client secret file: %w", err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return "", nil
}
