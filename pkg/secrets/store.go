package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Service is the fixed identifier under which vault entries are created.
const Service = "cloudhaul"

// Storage kinds reported for user-facing status.
const (
	KindSecure = "secure"
	KindFile   = "file"
)

// vaultStatus is the tri-state outcome of a vault operation, so degradation
// can be logged without special-casing error types.
type vaultStatus int

const (
	vaultOK vaultStatus = iota
	vaultUnavailable
	vaultFailed
)

// Store persists the credential record. Every save writes the file
// unconditionally; the vault is written additionally when an email is known.
// Vault absence is never fatal, it only affects the reported storage kind.
type Store struct {
	service   string
	path      string
	ring      Keyring
	available bool
	log       *zap.SugaredLogger

	mu   sync.Mutex
	kind string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyring substitutes the vault backend.
func WithKeyring(ring Keyring) Option {
	return func(s *Store) { s.ring = ring }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store writing the fallback file at path. Vault availability
// is probed once here and threaded through as a capability flag.
func New(path string, opts ...Option) *Store {
	s := &Store{
		service: Service,
		path:    path,
		ring:    SystemKeyring(),
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.available = probeVault(s.ring, s.service)
	if !s.available {
		s.log.Debugw("secure vault unavailable, file storage only", "path", s.path)
	}
	return s
}

// Save writes the record to the file (always) and to the vault (best effort,
// when the record carries an email). The file write is the guaranteed path;
// a vault failure is logged and swallowed.
func (s *Store) Save(rec *Record) error {
	if rec == nil {
		return errors.New("credential record is nil")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	kind := KindFile
	if rec.Email != "" {
		switch s.vaultSet(rec.Email, string(data)) {
		case vaultOK:
			kind = KindSecure
		case vaultFailed:
			s.log.Debugw("vault write failed, keeping file copy only", "email", rec.Email)
		case vaultUnavailable:
		}
	}
	s.noteKind(kind)
	return nil
}

// Retrieve loads the current record, trying the vault first when an email
// hint is supplied and falling back to the file. It returns nil with no
// error when no record exists.
func (s *Store) Retrieve(emailHint string) (*Record, error) {
	if emailHint != "" {
		if value, status := s.vaultGet(emailHint); status == vaultOK {
			var rec Record
			if err := json.Unmarshal([]byte(value), &rec); err != nil {
				return nil, fmt.Errorf("failed to parse stored credentials: %w (re-authenticate with \"cloudhaul auth login\")", err)
			}
			s.noteKind(KindSecure)
			return &rec, nil
		}
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w (re-authenticate with \"cloudhaul auth login\")", err)
	}
	s.noteKind(KindFile)
	return &rec, nil
}

// Delete removes the record from both backing stores, tolerating absence in
// either.
func (s *Store) Delete(emailHint string) error {
	if emailHint != "" {
		if status := s.vaultDelete(emailHint); status == vaultFailed {
			s.log.Debugw("vault delete failed", "email", emailHint)
		}
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	s.mu.Lock()
	s.kind = ""
	s.mu.Unlock()
	return nil
}

// Kind reports which backing store currently holds the record: "secure",
// "file", or "" when none does. The first successful Save or Retrieve pins
// the reported kind.
func (s *Store) Kind(emailHint string) string {
	s.mu.Lock()
	kind := s.kind
	s.mu.Unlock()
	if kind != "" {
		return kind
	}
	if emailHint != "" {
		if _, status := s.vaultGet(emailHint); status == vaultOK {
			return KindSecure
		}
	}
	if _, err := os.Stat(s.path); err == nil {
		return KindFile
	}
	return ""
}

// VaultAvailable reports whether the OS vault answered the construction-time
// probe. Informational only.
func (s *Store) VaultAvailable() bool {
	return s.available
}

func (s *Store) noteKind(kind string) {
	s.mu.Lock()
	if s.kind == "" {
		s.kind = kind
	}
	s.mu.Unlock()
}

func (s *Store) vaultGet(account string) (string, vaultStatus) {
	if !s.available {
		return "", vaultUnavailable
	}
	value, err := s.ring.Get(s.service, account)
	if err != nil {
		return "", vaultFailed
	}
	return value, vaultOK
}

func (s *Store) vaultSet(account, value string) vaultStatus {
	if !s.available {
		return vaultUnavailable
	}
	if err := s.ring.Set(s.service, account, value); err != nil {
		return vaultFailed
	}
	return vaultOK
}

func (s *Store) vaultDelete(account string) vaultStatus {
	if !s.available {
		return vaultUnavailable
	}
	if err := s.ring.Delete(s.service, account); err != nil {
		if errors.Is(err, ErrVaultEntryNotFound) {
			return vaultOK
		}
		return vaultFailed
	}
	return vaultOK
}

// writeFileAtomic writes via a temp file and rename so a concurrent reader
// never observes a half-written record.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
