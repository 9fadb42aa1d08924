package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudhaul/cloudhaul/pkg/secrets"
)

// stubKeyring is an in-memory vault for tests.
type stubKeyring struct {
	mu   sync.Mutex
	data map[string]string
}

func newStubKeyring() *stubKeyring {
	return &stubKeyring{data: map[string]string{}}
}

func (k *stubKeyring) Get(service, account string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	value, ok := k.data[service+"/"+account]
	if !ok {
		return "", secrets.ErrVaultEntryNotFound
	}
	return value, nil
}

func (k *stubKeyring) Set(service, account, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[service+"/"+account] = value
	return nil
}

func (k *stubKeyring) Delete(service, account string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, service+"/"+account)
	return nil
}

func newTestStore(t *testing.T) *secrets.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	return secrets.New(path, secrets.WithKeyring(newStubKeyring()))
}

// countingTransport counts outbound HTTP requests so tests can assert that
// cached paths stay off the network.
type countingTransport struct {
	calls int64
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&c.calls, 1)
	next := c.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}

func (c *countingTransport) count() int64 {
	return atomic.LoadInt64(&c.calls)
}

// forgeIDToken builds an unsigned JWT carrying the given claims. The identity
// extraction path never verifies signatures, so "sig" is enough.
func forgeIDToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func storedRecord(t *testing.T, store *secrets.Store, token secrets.Token, email string) *secrets.Record {
	t.Helper()
	rec := &secrets.Record{
		Token:     token,
		Email:     email,
		Scopes:    []string{"openid", "email"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(rec))
	return rec
}
