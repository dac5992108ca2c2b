package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"go.mkern.dev/moor/internal/registry"
)

// sessionList is the JSON document shape of `list --json`.
type sessionList struct {
	Sessions []registry.Session `json:"sessions"`
}

func NewListCommand() *cobra.Command {
	var asJSON bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := registry.Enumerate()
			if err != nil {
				return err
			}
			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].Name < sessions[j].Name
			})

			if asJSON {
				out, err := renderSessionsJSON(sessions)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			fmt.Printf("%-20s  %-7s  %-19s  %-8s  %s\n", "NAME", "CLIENTS", "CREATED", "PID", "COMMAND")
			for _, s := range sessions {
				created := time.Unix(s.Created, 0).Format(time.DateTime)
				fmt.Printf("%-20s  %-7d  %-19s  %-8d  %s\n", s.Name, s.Clients, created, s.Pid, s.Cmd)
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")

	return listCmd
}

// renderSessionsJSON serialises the session set; an empty registry still
// yields {"sessions":[]} so consumers never see null.
func renderSessionsJSON(sessions []registry.Session) ([]byte, error) {
	if sessions == nil {
		sessions = []registry.Session{}
	}
	return json.Marshal(sessionList{Sessions: sessions})
}
