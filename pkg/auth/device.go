package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudhaul/cloudhaul/pkg/secrets"
)

// slowDownStep is added to the polling interval every time the provider
// answers slow_down. Uncapped, matching provider expectations.
const slowDownStep = time.Second

// deviceGrant is the provider's device-authorization response. In-memory
// only for the duration of one attempt.
type deviceGrant struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

var (
	errAuthorizationPending = errors.New("authorization pending")
	errSlowDown             = errors.New("slow down")
)

// deviceLogin runs the device-authorization grant: request a code pair,
// display it, poll the token endpoint until completion or expiry.
func (a *Authenticator) deviceLogin(ctx context.Context) (secrets.Token, error) {
	deviceURL, tokenURL, err := a.deviceEndpoints(ctx)
	if err != nil {
		return secrets.Token{}, err
	}

	grant, err := a.requestDeviceGrant(ctx, deviceURL)
	if err != nil {
		return secrets.Token{}, err
	}

	_, _ = fmt.Fprintf(a.out, "Visit %s and enter code: %s\n", grant.VerificationURI, grant.UserCode)
	if grant.VerificationURIComplete != "" {
		_, _ = fmt.Fprintf(a.out, "Or open %s directly.\n", grant.VerificationURIComplete)
	}

	// The current interval lives on this stack frame; a retried flow starts
	// from the provider-supplied value again.
	interval := time.Duration(grant.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)

	for {
		if time.Now().After(deadline) {
			return secrets.Token{}, ErrDeviceCodeExpired
		}
		bundle, err := a.pollDeviceToken(ctx, tokenURL, grant.DeviceCode)
		switch {
		case err == nil:
			return bundle, nil
		case errors.Is(err, errAuthorizationPending):
		case errors.Is(err, errSlowDown):
			interval += slowDownStep
		default:
			return secrets.Token{}, err
		}
		if a.pollObserver != nil {
			a.pollObserver(interval)
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return secrets.Token{}, err
		}
	}
}

func (a *Authenticator) deviceEndpoints(ctx context.Context) (deviceURL, tokenURL string, err error) {
	deviceURL = a.cfg.DeviceAuthURL
	tokenURL = a.cfg.TokenURL
	if deviceURL != "" && tokenURL != "" {
		return deviceURL, tokenURL, nil
	}
	doc, err := discoverEndpoints(ctx, a.client, a.cfg.Issuer)
	if err != nil {
		return "", "", err
	}
	if deviceURL == "" {
		deviceURL = doc.DeviceAuthorizationEndpoint
	}
	if tokenURL == "" {
		tokenURL = doc.TokenEndpoint
	}
	if deviceURL == "" {
		return "", "", fmt.Errorf("provider %s does not advertise a device authorization endpoint", a.cfg.Issuer)
	}
	if tokenURL == "" {
		return "", "", fmt.Errorf("provider %s does not advertise a token endpoint", a.cfg.Issuer)
	}
	return deviceURL, tokenURL, nil
}

func (a *Authenticator) requestDeviceGrant(ctx context.Context, endpoint string) (*deviceGrant, error) {
	values := url.Values{}
	values.Set("client_id", a.cfg.ClientID)
	if scopes := a.cfg.scopes(); len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}
	resp, err := a.postForm(ctx, endpoint, values)
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("device authorization failed: %s", strings.TrimSpace(string(body)))
	}
	var grant deviceGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("failed to parse device authorization response: %w", err)
	}
	return &grant, nil
}

func (a *Authenticator) pollDeviceToken(ctx context.Context, endpoint, deviceCode string) (secrets.Token, error) {
	values := url.Values{}
	values.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	values.Set("device_code", deviceCode)
	values.Set("client_id", a.cfg.ClientID)
	if a.cfg.ClientSecret != "" {
		values.Set("client_secret", a.cfg.ClientSecret)
	}
	resp, err := a.postForm(ctx, endpoint, values)
	if err != nil {
		return secrets.Token{}, fmt.Errorf("device token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return secrets.Token{}, fmt.Errorf("failed to parse device token response: %w", err)
	}
	if payload.Error != "" {
		switch payload.Error {
		case "authorization_pending":
			return secrets.Token{}, errAuthorizationPending
		case "slow_down":
			return secrets.Token{}, errSlowDown
		case "access_denied":
			return secrets.Token{}, fmt.Errorf("%w on the second device", ErrFlowDenied)
		case "expired_token":
			return secrets.Token{}, ErrDeviceCodeExpired
		default:
			return secrets.Token{}, fmt.Errorf("device token error: %s", payload.Error)
		}
	}
	return secrets.Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
		Expiry:       expiryFrom(time.Now(), payload.ExpiresIn),
		IDToken:      payload.IDToken,
	}, nil
}

func (a *Authenticator) postForm(ctx context.Context, endpoint string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.client.Do(req)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
