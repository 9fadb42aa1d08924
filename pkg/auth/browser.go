package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/cloudhaul/cloudhaul/pkg/secrets"
)

const callbackPath = "/callback"

const successPage = `<!DOCTYPE html>
<html><head><title>cloudhaul</title></head>
<body><h1>Authentication complete</h1>
<p>You may close this window and return to the terminal.</p></body></html>`

const failurePage = `<!DOCTYPE html>
<html><head><title>cloudhaul</title></head>
<body><h1>Authentication failed</h1>
<p>Authorization was not granted. Return to the terminal and run the login command again.</p></body></html>`

// browserLogin runs the authorization-code flow against an ephemeral
// loopback listener. Establishment failures (listener, discovery) are marked
// so the auto method can fall back to the device flow; anything after the
// user is involved is terminal.
func (a *Authenticator) browserLogin(ctx context.Context) (secrets.Token, error) {
	pair, err := GeneratePKCE()
	if err != nil {
		return secrets.Token{}, fmt.Errorf("%w: %w", errFlowNotEstablished, err)
	}
	if err := ValidateVerifier(pair.Verifier); err != nil {
		return secrets.Token{}, fmt.Errorf("%w: %w", errFlowNotEstablished, err)
	}
	state, err := randomToken(24)
	if err != nil {
		return secrets.Token{}, fmt.Errorf("%w: %w", errFlowNotEstablished, err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return secrets.Token{}, fmt.Errorf("%w: failed to start callback listener: %w", errFlowNotEstablished, err)
	}

	redirectURL := fmt.Sprintf("http://%s%s", listener.Addr().String(), callbackPath)
	oauthCfg, err := a.cfg.oauthConfig(ctx, a.client, redirectURL)
	if err != nil {
		_ = listener.Close()
		return secrets.Token{}, fmt.Errorf("%w: %w", errFlowNotEstablished, err)
	}

	// access_type=offline and prompt=consent force the provider to include a
	// refresh token even for a previously-consented user.
	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("access_type", "offline"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	resultCh := make(chan secrets.Token, 1)
	errCh := make(chan error, 1)
	var handled atomic.Bool

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != callbackPath {
				http.NotFound(w, r)
				return
			}
			// Only the first redirect is honored.
			if !handled.CompareAndSwap(false, true) {
				http.NotFound(w, r)
				return
			}
			query := r.URL.Query()
			if reason := query.Get("error"); reason != "" {
				a.writePage(w, http.StatusOK, failurePage)
				errCh <- fmt.Errorf("%w by the provider: %s", ErrFlowDenied, reason)
				return
			}
			if query.Get("state") != state {
				a.writePage(w, http.StatusBadRequest, failurePage)
				errCh <- errors.New("callback state mismatch")
				return
			}
			code := query.Get("code")
			if code == "" {
				a.writePage(w, http.StatusBadRequest, failurePage)
				errCh <- errors.New("callback carried no authorization code")
				return
			}
			// Respond to the browser before the exchange; the user should
			// not stare at a spinner while we talk to the token endpoint.
			a.writePage(w, http.StatusOK, successPage)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, a.client)
			token, err := oauthCfg.Exchange(exchangeCtx, code,
				oauth2.SetAuthURLParam("code_verifier", pair.Verifier))
			if err != nil {
				errCh <- fmt.Errorf("authorization code exchange failed: %w", err)
				return
			}
			resultCh <- bundleFromOAuthToken(token)
		}),
	}

	var teardown sync.Once
	closeListener := func() {
		teardown.Do(func() {
			_ = server.Close()
		})
	}
	defer closeListener()

	go func() {
		_ = server.Serve(listener)
	}()

	_, _ = fmt.Fprintf(a.out, "Open the following URL in your browser to authorize cloudhaul:\n%s\n", authURL)
	if err := a.openURL(authURL); err != nil {
		a.log.Debugw("could not open browser, use the printed URL", "error", err)
	}

	timer := time.NewTimer(a.loginTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return secrets.Token{}, ctx.Err()
	case <-timer.C:
		return secrets.Token{}, ErrFlowTimeout
	case err := <-errCh:
		return secrets.Token{}, err
	case bundle := <-resultCh:
		return bundle, nil
	}
}

func (a *Authenticator) writePage(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, page)
}

func (a *Authenticator) openURL(url string) error {
	if a.browserOpener != nil {
		return a.browserOpener(url)
	}
	return openBrowser(url)
}

func bundleFromOAuthToken(token *oauth2.Token) secrets.Token {
	bundle := secrets.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		bundle.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		bundle.IDToken = idToken
	}
	return bundle
}

func openBrowser(url string) error {
	if os.Getenv("CLOUDHAUL_NO_BROWSER") != "" {
		return errors.New("browser disabled via CLOUDHAUL_NO_BROWSER")
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
