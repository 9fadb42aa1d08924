package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cloudhaul/cloudhaul/pkg/secrets"
)

// refreshMargin is how close to expiry a cached access token may be before
// it is refreshed instead of returned.
const refreshMargin = 5 * time.Minute

// TokenManager decides whether the cached access token is still usable,
// refreshes it when not, and writes the result back through the secret
// store.
type TokenManager struct {
	cfg    ProviderConfig
	store  *secrets.Store
	client *http.Client
	log    *zap.SugaredLogger
	now    func() time.Time

	// Collapses concurrent callers onto one in-flight refresh; there is a
	// single supported identity per process.
	group singleflight.Group

	hintMu    sync.Mutex
	emailHint string
}

// retrieve reads the stored record, passing the last known email so the
// store can try the vault first. The file is the guaranteed path on a cold
// start.
func (m *TokenManager) retrieve() (*secrets.Record, error) {
	m.hintMu.Lock()
	hint := m.emailHint
	m.hintMu.Unlock()
	rec, err := m.store.Retrieve(hint)
	if rec != nil && rec.Email != "" {
		m.hintMu.Lock()
		m.emailHint = rec.Email
		m.hintMu.Unlock()
	}
	return rec, err
}

// NewTokenManager builds a lifecycle manager over the given store.
func NewTokenManager(cfg ProviderConfig, store *secrets.Store, client *http.Client, log *zap.SugaredLogger) *TokenManager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TokenManager{cfg: cfg, store: store, client: client, log: log, now: time.Now}
}

// AccessToken returns a currently-valid access token, refreshing the stored
// credential if needed. It fails with ErrNotAuthenticated when no record
// exists, ErrReauthRequired when the token is stale with no refresh token,
// and ErrRefreshRejected when the provider invalidated the refresh token.
// Transport failures surface as-is; retry policy belongs to the caller.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	value, err, _ := m.group.Do("access-token", func() (interface{}, error) {
		return m.accessToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (m *TokenManager) accessToken(ctx context.Context) (string, error) {
	rec, err := m.retrieve()
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrNotAuthenticated
	}
	if !rec.Token.ExpiresWithin(refreshMargin) {
		return rec.Token.AccessToken, nil
	}
	if rec.Token.RefreshToken == "" {
		return "", ErrReauthRequired
	}
	refreshed, err := m.refresh(ctx, rec)
	if err != nil {
		return "", err
	}
	return refreshed.Token.AccessToken, nil
}

// ExpiryReport describes the cached token's remaining lifetime with a zero
// safety margin. Status reporting only; the refresh decision always uses
// refreshMargin.
type ExpiryReport struct {
	Expired     bool `json:"expired"`
	MinutesLeft int  `json:"minutes_until_expiry,omitempty"`
}

// Expiry reports whether the cached token is currently expired by literal
// wall-clock comparison. No network calls.
func (m *TokenManager) Expiry() (ExpiryReport, error) {
	rec, err := m.retrieve()
	if err != nil {
		return ExpiryReport{}, err
	}
	if rec == nil {
		return ExpiryReport{}, ErrNotAuthenticated
	}
	return reportExpiry(rec.Token, m.now()), nil
}

func reportExpiry(token secrets.Token, now time.Time) ExpiryReport {
	if token.Expiry.IsZero() || !token.Expiry.After(now) {
		return ExpiryReport{Expired: true}
	}
	return ExpiryReport{MinutesLeft: int(token.Expiry.Sub(now).Minutes())}
}

// refresh exchanges the stored refresh token for a new bundle and persists
// the merge. The new refresh token is adopted only when the provider
// returned one; issuers are permitted to omit rotation.
func (m *TokenManager) refresh(ctx context.Context, rec *secrets.Record) (*secrets.Record, error) {
	tokenURL, err := m.cfg.tokenEndpoint(ctx, m.client)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", rec.Token.RefreshToken)
	values.Set("client_id", m.cfg.ClientID)
	if m.cfg.ClientSecret != "" {
		values.Set("client_secret", m.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if payload.Error == "invalid_grant" {
		return nil, fmt.Errorf("%w (provider said: %s)", ErrRefreshRejected, nonEmpty(payload.ErrorDesc, payload.Error))
	}
	if payload.Error != "" || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("token refresh failed (HTTP %d): %s", resp.StatusCode, nonEmpty(payload.ErrorDesc, payload.Error))
	}

	now := m.now()
	merged := *rec
	merged.Token.AccessToken = payload.AccessToken
	merged.Token.Expiry = expiryFrom(now, payload.ExpiresIn)
	if payload.RefreshToken != "" {
		merged.Token.RefreshToken = payload.RefreshToken
	}
	if payload.TokenType != "" {
		merged.Token.TokenType = payload.TokenType
	}
	if payload.Scope != "" {
		merged.Token.Scope = payload.Scope
	}
	if payload.IDToken != "" {
		merged.Token.IDToken = payload.IDToken
	}
	refreshedAt := now.UTC()
	merged.LastRefreshedAt = &refreshedAt

	if err := m.store.Save(&merged); err != nil {
		return nil, fmt.Errorf("refreshed but failed to persist credentials: %w", err)
	}
	m.log.Debugw("access token refreshed", "expiry", merged.Token.Expiry)
	return &merged, nil
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown error"
}
