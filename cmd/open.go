package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/session"
)

func NewOpenCommand() *cobra.Command {
	openCmd := &cobra.Command{
		Use:   "open <name> [-- cmd...]",
		Short: "Attach to a session, creating it first if needed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cmdline := strings.Join(args[1:], " ")
			code, err := session.Open(name, cmdline)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}

	return openCmd
}
