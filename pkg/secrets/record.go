package secrets

import (
	"time"
)

// Token is the credential bundle returned by the provider's token endpoint.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// ExpiresWithin reports whether the access token is within margin of its
// expiry. A token without a recorded expiry is treated as already expired so
// it is refreshed rather than trusted indefinitely.
func (t Token) ExpiresWithin(margin time.Duration) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return time.Until(t.Expiry) <= margin
}

// Record is the persisted unit: one per installation. Saving a new record
// fully supersedes the previous one in every backing store.
type Record struct {
	Token           Token      `json:"token"`
	Email           string     `json:"email,omitempty"`
	Scopes          []string   `json:"scopes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
}
