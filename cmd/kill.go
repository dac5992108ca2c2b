package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/session"
)

func NewKillCommand() *cobra.Command {
	killCmd := &cobra.Command{
		Use:   "kill <name>",
		Short: "Terminate a session",
		Long: `Terminate a session's daemon (SIGTERM, escalating to SIGKILL) and
remove its registry files. Killing an unknown session fails but still
cleans any stale files it left behind.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := session.Kill(name); err != nil {
				return err
			}
			fmt.Printf("killed session '%s'\n", name)
			return nil
		},
	}

	return killCmd
}
