package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudhaul/cloudhaul/pkg/secrets"
)

func TestLogin_ValidatesConfiguration(t *testing.T) {
	a := New(ProviderConfig{}, newTestStore(t), WithOutput(io.Discard))

	_, err := a.Login(context.Background(), MethodBrowser)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"client-id", "client-secret"}, cfgErr.Missing)
}

func TestLogin_UnknownMethod(t *testing.T) {
	cfg := ProviderConfig{ClientID: "id", ClientSecret: "secret"}
	a := New(cfg, newTestStore(t), WithOutput(io.Discard))

	_, err := a.Login(context.Background(), Method("carrier-pigeon"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestLogin_BrowserPersistsRecord(t *testing.T) {
	idToken := forgeIDToken(t, map[string]interface{}{"email": "user@example.com"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access","refresh_token":"refresh","token_type":"Bearer","expires_in":3600,"scope":"openid email","id_token":"` + idToken + `"}`))
	}))
	defer server.Close()

	cfg := ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		AuthURL:      "https://provider.example/auth",
		TokenURL:     server.URL,
	}
	store := newTestStore(t)
	browser := newFakeBrowser(t)
	a := New(cfg, store, WithOutput(io.Discard), WithLoginTimeout(10*time.Second))
	a.browserOpener = browser.open

	done := make(chan struct{})
	go func() {
		defer close(done)
		browser.approve("the-code")
	}()

	rec, err := a.Login(context.Background(), MethodBrowser)
	<-done
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", rec.Email)
	assert.Equal(t, []string{"openid", "email"}, rec.Scopes)
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)

	// The record is retrievable through the store afterwards.
	loaded, err := store.Retrieve("user@example.com")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "access", loaded.Token.AccessToken)
}

func TestLogin_AutoFallsBackToDeviceFlow(t *testing.T) {
	idToken := forgeIDToken(t, map[string]interface{}{"email": "user@example.com"})
	provider := &deviceProvider{
		t:       t,
		grant:   `{"device_code":"dev-code","user_code":"ABCD","verification_uri":"https://provider.example/activate","expires_in":600,"interval":1}`,
		answers: []string{`{"access_token":"access","expires_in":3600,"id_token":"` + idToken + `"}`},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	// No AuthURL and an unreachable issuer: the localhost flow cannot be
	// established, so auto must fall through to the device flow.
	cfg := ProviderConfig{
		ClientID:      "id",
		ClientSecret:  "secret",
		Issuer:        "http://127.0.0.1:1",
		DeviceAuthURL: server.URL + "/device",
		TokenURL:      server.URL + "/token",
	}
	store := newTestStore(t)
	a := New(cfg, store, WithOutput(io.Discard))

	rec, err := a.Login(context.Background(), MethodAuto)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", rec.Email)
	assert.Equal(t, "access", rec.Token.AccessToken)
}

func TestLogin_AutoDoesNotFallBackAfterDenial(t *testing.T) {
	cfg := ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		AuthURL:      "https://provider.example/auth",
		TokenURL:     "https://provider.example/token",
		// A device endpoint is configured, but denial must never reach it.
		DeviceAuthURL: "http://127.0.0.1:1/device",
	}
	browser := newFakeBrowser(t)
	a := New(cfg, newTestStore(t), WithOutput(io.Discard), WithLoginTimeout(10*time.Second))
	a.browserOpener = browser.open

	done := make(chan struct{})
	go func() {
		defer close(done)
		browser.deny("access_denied")
	}()

	_, err := a.Login(context.Background(), MethodAuto)
	<-done
	assert.ErrorIs(t, err, ErrFlowDenied)
}

func TestStatus_Lifecycle(t *testing.T) {
	idToken := forgeIDToken(t, map[string]interface{}{"email": "user@example.com"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access","refresh_token":"refresh","token_type":"Bearer","expires_in":3600,"scope":"openid email","id_token":"` + idToken + `"}`))
	}))
	defer server.Close()

	cfg := ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		AuthURL:      "https://provider.example/auth",
		TokenURL:     server.URL,
	}
	store := newTestStore(t)
	browser := newFakeBrowser(t)
	a := New(cfg, store, WithOutput(io.Discard), WithLoginTimeout(10*time.Second))
	a.browserOpener = browser.open

	// Before any login the projection is all zero values, not an error.
	status, err := a.Status()
	require.NoError(t, err)
	assert.False(t, status.Authenticated)
	assert.Empty(t, status.Email)

	done := make(chan struct{})
	go func() {
		defer close(done)
		browser.approve("the-code")
	}()
	_, err = a.Login(context.Background(), MethodBrowser)
	<-done
	require.NoError(t, err)

	status, err = a.Status()
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.Equal(t, "user@example.com", status.Email)
	assert.Equal(t, []string{"openid", "email"}, status.Scopes)
	assert.Equal(t, secrets.KindSecure, status.Storage)
	assert.False(t, status.Expired)
	assert.InDelta(t, 59, status.MinutesLeft, 1)
	assert.Nil(t, status.LastRefreshedAt)

	require.NoError(t, a.Logout(context.Background(), false))

	status, err = a.Status()
	require.NoError(t, err)
	assert.False(t, status.Authenticated)
}

func TestLogout_NotAuthenticated(t *testing.T) {
	cfg := ProviderConfig{ClientID: "id", ClientSecret: "secret"}
	a := New(cfg, newTestStore(t), WithOutput(io.Discard))

	err := a.Logout(context.Background(), false)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogout_RevokeSendsTokenAsQueryParam(t *testing.T) {
	var revoked []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		revoked = append(revoked, r.URL.Query().Get("token"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RevokeURL:    server.URL + "/revoke",
	}
	store := newTestStore(t)
	storedRecord(t, store, secrets.Token{
		AccessToken: "the token+special",
		Expiry:      time.Now().Add(time.Hour),
	}, "user@example.com")

	a := New(cfg, store, WithOutput(io.Discard))

	require.NoError(t, a.Logout(context.Background(), true))
	require.Len(t, revoked, 1)
	assert.Equal(t, "the token+special", revoked[0])

	rec, err := store.Retrieve("user@example.com")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLogout_RevokeFailureStillDeletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RevokeURL:    server.URL + "/revoke",
	}
	store := newTestStore(t)
	storedRecord(t, store, secrets.Token{AccessToken: "access"}, "user@example.com")

	a := New(cfg, store, WithOutput(io.Discard))

	require.NoError(t, a.Logout(context.Background(), true))

	rec, err := store.Retrieve("user@example.com")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAccessToken_DelegatesToManager(t *testing.T) {
	cfg := ProviderConfig{ClientID: "id", ClientSecret: "secret"}
	store := newTestStore(t)
	storedRecord(t, store, secrets.Token{
		AccessToken: "cached",
		Expiry:      time.Now().Add(time.Hour),
	}, "user@example.com")

	a := New(cfg, store, WithOutput(io.Discard))

	token, err := a.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.NotNil(t, a.Manager())
}

func TestGrantedScopes(t *testing.T) {
	requested := []string{"openid", "email"}
	assert.Equal(t, []string{"openid", "profile"}, grantedScopes("openid profile", requested))
	assert.Equal(t, requested, grantedScopes("", requested))
}

func TestNewDefaults(t *testing.T) {
	store := secrets.New(filepath.Join(t.TempDir(), "credentials.json"))
	a := New(ProviderConfig{ClientID: "id", ClientSecret: "secret"}, store)
	assert.Equal(t, defaultLoginTimeout, a.loginTimeout)
	assert.NotNil(t, a.client)
	assert.NotNil(t, a.manager)
}
