package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudhaul/cloudhaul/pkg/secrets"
)

// Method selects the interactive authorization flow.
type Method string

const (
	// MethodAuto tries the localhost flow and falls back to the device flow
	// only when the localhost flow fails to establish.
	MethodAuto Method = "auto"
	// MethodBrowser runs the localhost authorization-code flow.
	MethodBrowser Method = "browser"
	// MethodDevice runs the device-authorization flow.
	MethodDevice Method = "device"
)

const defaultLoginTimeout = 5 * time.Minute

// Authenticator is the single entry point the rest of the application uses:
// it runs a flow, stores the result, and answers token/status/logout calls.
// One logical session per process; callers must not start a second flow
// while one is pending.
type Authenticator struct {
	cfg     ProviderConfig
	store   *secrets.Store
	manager *TokenManager
	client  *http.Client
	log     *zap.SugaredLogger
	out     io.Writer

	loginTimeout time.Duration

	// Test seams.
	browserOpener func(string) error
	pollObserver  func(time.Duration)
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHTTPClient substitutes the HTTP client used for all provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Authenticator) { a.client = client }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(a *Authenticator) { a.log = log }
}

// WithOutput redirects user-facing flow instructions (URLs, device codes).
func WithOutput(w io.Writer) Option {
	return func(a *Authenticator) { a.out = w }
}

// WithLoginTimeout overrides the window granted to interactive flows.
func WithLoginTimeout(d time.Duration) Option {
	return func(a *Authenticator) { a.loginTimeout = d }
}

// New builds an Authenticator over the given provider settings and secret
// store.
func New(cfg ProviderConfig, store *secrets.Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		cfg:          cfg,
		store:        store,
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          zap.NewNop().Sugar(),
		out:          os.Stdout,
		loginTimeout: defaultLoginTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.manager = NewTokenManager(cfg, store, a.client, a.log)
	return a
}

// Login runs the selected flow, resolves the user's email from the identity
// token (best effort), and persists the credential record.
func (a *Authenticator) Login(ctx context.Context, method Method) (*secrets.Record, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	var bundle secrets.Token
	var err error
	switch method {
	case "", MethodAuto:
		bundle, err = a.browserLogin(ctx)
		if err != nil && errors.Is(err, errFlowNotEstablished) {
			a.log.Debugw("localhost flow unavailable, falling back to device flow", "error", err)
			bundle, err = a.deviceLogin(ctx)
		}
	case MethodBrowser:
		bundle, err = a.browserLogin(ctx)
	case MethodDevice:
		bundle, err = a.deviceLogin(ctx)
	default:
		return nil, fmt.Errorf("unsupported login method %q (use auto, browser, or device)", method)
	}
	if err != nil {
		return nil, err
	}

	rec := &secrets.Record{
		Token:     bundle,
		Email:     EmailFromIDToken(bundle.IDToken),
		Scopes:    grantedScopes(bundle.Scope, a.cfg.scopes()),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Logout removes the stored credential from every backing store. With
// revoke, the provider's revoke endpoint is called first, best effort.
func (a *Authenticator) Logout(ctx context.Context, revoke bool) error {
	rec, err := a.store.Retrieve("")
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotAuthenticated
	}
	if revoke {
		if err := a.revokeToken(ctx, rec.Token.AccessToken); err != nil {
			a.log.Warnw("token revocation failed, deleting local credentials anyway", "error", err)
		}
	}
	return a.store.Delete(rec.Email)
}

// Status is a read-only projection of the stored record and the expiry
// report. No side effects, no network calls.
type Status struct {
	Authenticated   bool       `json:"authenticated"`
	Email           string     `json:"email,omitempty"`
	Scopes          []string   `json:"scopes,omitempty"`
	Storage         string     `json:"storage,omitempty"`
	Expired         bool       `json:"expired,omitempty"`
	MinutesLeft     int        `json:"minutes_until_expiry,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
}

// Status reports the current authentication state.
func (a *Authenticator) Status() (Status, error) {
	rec, err := a.store.Retrieve("")
	if err != nil {
		return Status{}, err
	}
	if rec == nil {
		return Status{}, nil
	}
	report := reportExpiry(rec.Token, time.Now())
	return Status{
		Authenticated:   true,
		Email:           rec.Email,
		Scopes:          rec.Scopes,
		Storage:         a.store.Kind(rec.Email),
		Expired:         report.Expired,
		MinutesLeft:     report.MinutesLeft,
		LastRefreshedAt: rec.LastRefreshedAt,
	}, nil
}

// AccessToken returns a currently-valid access token. This is the only call
// surface the listing and transfer collaborators use.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	return a.manager.AccessToken(ctx)
}

// Manager exposes the lifecycle manager for status reporting.
func (a *Authenticator) Manager() *TokenManager {
	return a.manager
}

func (a *Authenticator) revokeToken(ctx context.Context, accessToken string) error {
	revokeURL := a.cfg.RevokeURL
	if revokeURL == "" {
		doc, err := discoverEndpoints(ctx, a.client, a.cfg.Issuer)
		if err != nil {
			return err
		}
		revokeURL = doc.RevocationEndpoint
	}
	if revokeURL == "" {
		return fmt.Errorf("provider %s does not advertise a revocation endpoint", a.cfg.Issuer)
	}
	// The provider expects the token as a query parameter here.
	endpoint := revokeURL + "?token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("revoke endpoint answered HTTP %d", resp.StatusCode)
	}
	return nil
}

func grantedScopes(scope string, requested []string) []string {
	if scope == "" {
		return requested
	}
	return strings.Fields(scope)
}
