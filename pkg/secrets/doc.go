// Package secrets persists the credential record obtained from the identity
// provider, preferring the OS keyring and falling back to a permission
// restricted file under the user's config directory.
package secrets
