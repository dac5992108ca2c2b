package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/db"
	"go.mkern.dev/moor/internal/registry"
)

func NewHistoryCommand() *cobra.Command {
	var limit int
	var sessionName string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent session lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := registry.EnsureDir(); err != nil {
				return err
			}
			if sessionName != "" && !registry.ValidName(sessionName) {
				return fmt.Errorf("invalid session name %q", sessionName)
			}
			if _, err := os.Stat(db.Path()); err != nil {
				fmt.Println("no history recorded")
				return nil
			}

			store, err := db.Open(db.Path())
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.RecentEvents(sessionName, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("no history recorded")
				return nil
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-20s  %-14s", e.Timestamp.Format(time.DateTime), e.Session, e.EventType)
				if e.Details != "" {
					line += "  " + e.Details
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events to show")
	historyCmd.Flags().StringVar(&sessionName, "session", "", "only events for this session")

	return historyCmd
}
