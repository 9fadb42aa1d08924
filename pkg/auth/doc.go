// Package auth obtains and maintains the OAuth credential for the local
// user: authorization-code login with a loopback callback, device-code login
// for browserless environments, refresh with rotation-tolerant merging, and
// a single AccessToken entry point for the rest of the application.
package auth
