package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/session"
)

func NewAttachCommand() *cobra.Command {
	attachCmd := &cobra.Command{
		Use:   "attach <name>",
		Short: "Attach this terminal to a running session",
		Long: `Attach the current terminal to a running session. Keystrokes go to the
session's shell; its output renders here. Detach with Ctrl+\ — the
session keeps running.

Exits with the shell's exit code when the session ends, or 0 on detach.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := session.Attach(args[0])
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}

	return attachCmd
}
