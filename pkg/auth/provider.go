package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ProviderConfig carries the OAuth client settings for the identity
// provider. Endpoints may be set explicitly; otherwise they are discovered
// from the issuer's well-known document.
type ProviderConfig struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	AuthURL       string
	TokenURL      string
	DeviceAuthURL string
	RevokeURL     string
}

// Validate fails fast when the client configuration is absent, naming each
// missing value.
func (c ProviderConfig) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client-id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client-secret")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func (c ProviderConfig) scopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return []string{oidc.ScopeOpenID, "email", "profile"}
}

// discovery is the subset of the well-known OpenID configuration this core
// uses.
type discovery struct {
	TokenEndpoint               string `json:"token_endpoint"`
	AuthorizationEndpoint       string `json:"authorization_endpoint"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	RevocationEndpoint          string `json:"revocation_endpoint"`
}

func discoverEndpoints(ctx context.Context, client *http.Client, issuer string) (*discovery, error) {
	wellKnown := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider discovery failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider discovery failed: %s", string(body))
	}
	var doc discovery
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse provider discovery document: %w", err)
	}
	return &doc, nil
}

// tokenEndpoint resolves the token endpoint, preferring the explicit
// override.
func (c ProviderConfig) tokenEndpoint(ctx context.Context, client *http.Client) (string, error) {
	if c.TokenURL != "" {
		return c.TokenURL, nil
	}
	doc, err := discoverEndpoints(ctx, client, c.Issuer)
	if err != nil {
		return "", err
	}
	if doc.TokenEndpoint == "" {
		return "", fmt.Errorf("provider %s does not advertise a token endpoint", c.Issuer)
	}
	return doc.TokenEndpoint, nil
}

// oauthConfig builds the oauth2 client configuration, using OIDC discovery
// when endpoints are not pinned in the provider settings.
func (c ProviderConfig) oauthConfig(ctx context.Context, client *http.Client, redirectURL string) (*oauth2.Config, error) {
	cfg := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       c.scopes(),
	}
	if c.AuthURL != "" && c.TokenURL != "" {
		cfg.Endpoint = oauth2.Endpoint{AuthURL: c.AuthURL, TokenURL: c.TokenURL}
		return cfg, nil
	}
	ctx = oidc.ClientContext(ctx, client)
	provider, err := oidc.NewProvider(ctx, c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	cfg.Endpoint = provider.Endpoint()
	return cfg, nil
}

// tokenResponse is the provider's token endpoint payload, shared by the
// device poller and the refresh call.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

// expiryFrom converts a relative expires_in observed now into an absolute
// instant. Zero stays zero so the bundle is treated as already expired.
func expiryFrom(now time.Time, expiresIn int) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(expiresIn) * time.Second)
}
