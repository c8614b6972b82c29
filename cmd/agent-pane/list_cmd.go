package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/asheshgoplani/agent-pane/internal/session"
	"github.com/asheshgoplani/agent-pane/internal/statedb"
)

type sessionJSON struct {
	Name        string     `json:"name"`
	Workspace   string     `json:"workspace,omitempty"`
	Tool        string     `json:"tool,omitempty"`
	Binary      string     `json:"binary,omitempty"`
	Cwd         string     `json:"cwd,omitempty"`
	Restarts    int        `json:"restarts"`
	Running     bool       `json:"running"`
	LastStatus  string     `json:"last_status,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

func (c *cli) listCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List managed sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := c.openApp(ctx)
			defer a.Close()

			live, err := a.client.ListSessions(ctx, session.SessionPrefix)
			if err != nil {
				return err
			}
			running := make(map[string]bool, len(live))
			for _, name := range live {
				running[name] = true
			}

			var rows []*statedb.SessionRow
			if a.db != nil {
				if rows, err = a.db.ListSessions(ctx); err != nil {
					return err
				}
			}
			list := mergeSessions(rows, live, running)

			out := output{w: cmd.OutOrStdout(), jsonMode: jsonOut}
			return out.Print(formatSessions(list), list)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print sessions as JSON")
	return cmd
}

// mergeSessions lists registry rows first, then live tmux sessions the
// registry does not know about.
func mergeSessions(rows []*statedb.SessionRow, live []string, running map[string]bool) []sessionJSON {
	list := make([]sessionJSON, 0, len(rows)+len(live))
	known := make(map[string]bool, len(rows))
	for _, r := range rows {
		known[r.Name] = true
		s := sessionJSON{
			Name:       r.Name,
			Workspace:  r.Workspace,
			Tool:       r.Tool,
			Binary:     r.BinaryPath,
			Cwd:        r.Cwd,
			Restarts:   r.Restarts,
			Running:    running[r.Name],
			LastStatus: r.LastStatus,
		}
		if !r.LastChecked.IsZero() {
			t := r.LastChecked
			s.LastChecked = &t
		}
		list = append(list, s)
	}
	for _, name := range live {
		if !known[name] {
			list = append(list, sessionJSON{Name: name, Running: true})
		}
	}
	return list
}

func formatSessions(list []sessionJSON) string {
	if len(list) == 0 {
		return "No sessions.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tWORKSPACE\tTOOL\tSTATE\tLAST STATUS\tRESTARTS")
	for _, s := range list {
		state := "stopped"
		if s.Running {
			state = "running"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.Name, dash(s.Workspace), dash(s.Tool), state, dash(s.LastStatus), s.Restarts)
	}
	_ = w.Flush()
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type launchJSON struct {
	ID        string    `json:"id"`
	Binary    string    `json:"binary,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history <workspace> <tool>",
		Short: "Show recent launch attempts for a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := c.openApp(ctx)
			defer a.Close()
			if a.db == nil {
				return fmt.Errorf("launch history needs storage; enable [storage] in the config")
			}
			name := session.SessionName(args[0], args[1])
			rows, err := a.db.RecentLaunches(ctx, name, limit)
			if err != nil {
				return err
			}
			list := make([]launchJSON, 0, len(rows))
			for _, r := range rows {
				list = append(list, launchJSON{
					ID:        r.ID,
					Binary:    r.Binary,
					Outcome:   r.Outcome,
					Error:     r.Error,
					StartedAt: r.StartedAt,
					Duration:  r.Duration.Round(time.Millisecond).String(),
				})
			}
			return output{w: cmd.OutOrStdout(), jsonMode: jsonOut}.Print(formatLaunches(name, list), list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of launches to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print launches as JSON")
	return cmd
}

func formatLaunches(name string, list []launchJSON) string {
	if len(list) == 0 {
		return fmt.Sprintf("No launches recorded for %s.\n", name)
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tDURATION\tBINARY\tERROR")
	for _, l := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.StartedAt.Local().Format(time.DateTime), l.Outcome, l.Duration, dash(l.Binary), l.Error)
	}
	_ = w.Flush()
	return b.String()
}
