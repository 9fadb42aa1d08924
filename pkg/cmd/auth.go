package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudhaul/cloudhaul/pkg/auth"
	"github.com/cloudhaul/cloudhaul/pkg/output"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the cloud drive provider",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize cloudhaul to access your cloud drive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authn, err := rt.newAuthenticator()
			if err != nil {
				return err
			}
			if method == "" && rt.cfg != nil {
				method = rt.cfg.Settings.LoginMethod
			}
			rec, err := authn.Login(context.Background(), auth.Method(method))
			if err != nil {
				return err
			}
			who := rec.Email
			if who == "" {
				who = "unknown user"
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Authenticated as %s. Token expires at %s\n",
				who, rec.Token.Expiry.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "Login method: auto, browser, or device")
	return cmd
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authn, err := rt.newAuthenticator()
			if err != nil {
				return err
			}
			status, err := authn.Status()
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			if format != output.FormatText {
				return output.WriteObject(rt.Writer(), format, status)
			}
			writeStatusText(rt, status)
			return nil
		},
	}
}

func writeStatusText(rt *runtimeState, status auth.Status) {
	w := rt.Writer()
	if !status.Authenticated {
		_, _ = fmt.Fprintln(w, `Not authenticated. Run "cloudhaul auth login".`)
		return
	}
	who := status.Email
	if who == "" {
		who = "(email unknown)"
	}
	_, _ = fmt.Fprintf(w, "Authenticated as %s\n", who)
	if len(status.Scopes) > 0 {
		_, _ = fmt.Fprintf(w, "Scopes:   %s\n", strings.Join(status.Scopes, " "))
	}
	if status.Storage != "" {
		_, _ = fmt.Fprintf(w, "Storage:  %s\n", status.Storage)
	}
	if status.Expired {
		_, _ = fmt.Fprintln(w, "Token:    expired (will refresh on next use)")
	} else {
		_, _ = fmt.Fprintf(w, "Token:    valid for %d more minutes\n", status.MinutesLeft)
	}
	if status.LastRefreshedAt != nil {
		_, _ = fmt.Fprintf(w, "Refreshed: %s\n", status.LastRefreshedAt.UTC().Format(time.RFC3339))
	}
}

func newAuthLogoutCommand() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authn, err := rt.newAuthenticator()
			if err != nil {
				return err
			}
			if err := authn.Logout(context.Background(), revoke); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Also revoke the token at the provider")
	return cmd
}
