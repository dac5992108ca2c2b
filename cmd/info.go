package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/hostinfo"
	"go.mkern.dev/moor/internal/registry"
)

func NewInfoCommand() *cobra.Command {
	var asJSON bool

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Report host telemetry",
		Long: `Report host telemetry: user, conda environment, load average, home
disk usage, SLURM job count, live-session count, and the backend
identifier. Fields that cannot be gathered report N/A.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := registry.Enumerate()
			if err != nil {
				return err
			}
			info := hostinfo.Collect(len(sessions))

			if asJSON {
				out, err := json.Marshal(info)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Print(info.Lines())
			return nil
		},
	}
	infoCmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")

	return infoCmd
}
