package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/session"
)

// NewDaemonCommand is the hidden entry point the spawner re-executes; it
// runs the session daemon in the foreground of the detached process.
func NewDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:    "daemon <name> [cmd]",
		Hidden: true,
		Args:   cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := args[0]
			cmdline := strings.Join(args[1:], " ")
			d := session.NewDaemon(name, cmdline)
			os.Exit(d.Run())
		},
	}

	return daemonCmd
}
