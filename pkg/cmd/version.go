package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudhaul/cloudhaul/pkg/output"
	"github.com/cloudhaul/cloudhaul/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			info := version.Get()
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			if format != output.FormatText {
				return output.WriteObject(rt.Writer(), format, info)
			}
			_, _ = fmt.Fprintln(rt.Writer(), info.String())
			return nil
		},
	}
}
