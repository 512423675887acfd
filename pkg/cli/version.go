package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ma12/companion-api/pkg/system"
)

func NewVersionCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			info := system.GetBuildInfo()
			if outputFormat(format) != formatTable {
				return writeObject(rt.Writer(), outputFormat(format), info)
			}
			_, err = fmt.Fprintln(rt.Writer(), info.String())
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", string(formatTable), "Output format: table, json or yaml")
	return cmd
}
