package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Terminal failure classes. Every message names the concrete next action.
var (
	// ErrNotAuthenticated means no credential record exists.
	ErrNotAuthenticated = errors.New(`not authenticated: run "cloudhaul auth login"`)

	// ErrReauthRequired means the access token expired and no refresh token
	// is available.
	ErrReauthRequired = errors.New(`session expired with no refresh token: run "cloudhaul auth login" again`)

	// ErrRefreshRejected means the provider invalidated the refresh token.
	ErrRefreshRejected = errors.New(`the provider rejected the stored refresh token: run "cloudhaul auth login" again`)

	// ErrFlowTimeout means no user completion arrived within the allotted
	// window.
	ErrFlowTimeout = errors.New(`timed out waiting for authorization: run "cloudhaul auth login" again`)

	// ErrFlowDenied means the user or provider declined the authorization.
	ErrFlowDenied = errors.New("authorization was denied")

	// ErrDeviceCodeExpired means the device code lapsed before the user
	// completed authorization. The flow never restarts itself.
	ErrDeviceCodeExpired = errors.New(`device code expired, restart the flow with "cloudhaul auth login --method device"`)
)

// errFlowNotEstablished marks a localhost-flow failure that happened before
// the user was ever involved (listener or discovery), which is the only case
// where the auto method falls back to the device flow.
var errFlowNotEstablished = errors.New("localhost flow could not be established")

// ConfigurationError reports absent provider client configuration by field
// name. Fatal; nothing is retried.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf(`provider configuration incomplete: missing %s (run "cloudhaul config init" and fill in the provider section)`,
		strings.Join(e.Missing, ", "))
}
