package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/core"
)

// NewRootCommand builds the moor command tree.
func NewRootCommand() *cobra.Command {
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "moor",
		Short: "moor - persistent terminal sessions",
		Long: `moor keeps terminal sessions alive on a host after you disconnect.

A session is a daemon owning a PTY-wrapped shell; any number of clients
(up to 16) can attach to it simultaneously over a per-user Unix socket.
Detach with Ctrl+\ — the shell keeps running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.LoadConfig(); err != nil {
				return err
			}

			level := slog.LevelWarn
			switch {
			case verbose >= 2:
				level = slog.LevelDebug
			case verbose == 1:
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(
				tint.NewHandler(os.Stderr, &tint.Options{
					Level:      level,
					TimeFormat: time.DateTime,
				}),
			))
			return nil
		},
	}
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewCreateCommand(),
		NewAttachCommand(),
		NewOpenCommand(),
		NewListCommand(),
		NewInfoCommand(),
		NewKillCommand(),
		NewHistoryCommand(),
		NewDaemonCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
