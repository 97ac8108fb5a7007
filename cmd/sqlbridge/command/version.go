package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ha1tch/sqlbridge/pkg/version"
)

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(app.stdout, version.Full())
			return nil
		},
	}
}
