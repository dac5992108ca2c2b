package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/session"
)

func NewCreateCommand() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create <name> [-- cmd...]",
		Short: "Create a new detached session",
		Long: `Create a new session daemon running a login shell, detached from the
current terminal. With a command after --, the shell runs it via -c.

The command returns once the daemon has been launched; use 'list' to
confirm the session is up.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cmdline := strings.Join(args[1:], " ")
			if err := session.Create(name, cmdline); err != nil {
				return err
			}
			fmt.Printf("created session '%s'\n", name)
			return nil
		},
	}

	return createCmd
}
