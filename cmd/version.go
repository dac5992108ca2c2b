package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the moor version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("moor %s\n", core.FormatVersion(core.Version))
		},
	}

	return versionCmd
}
