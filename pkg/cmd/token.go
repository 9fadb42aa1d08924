package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewTokenCommand prints a currently-valid access token, refreshing it if
// needed. This is the surface scripting collaborators consume.
func NewTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authn, err := rt.newAuthenticator()
			if err != nil {
				return err
			}
			token, err := authn.AccessToken(context.Background())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), token)
			return nil
		},
	}
}
