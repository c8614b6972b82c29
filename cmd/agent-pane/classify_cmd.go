package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

// classifyCmd runs the status classifier over text read from stdin, so
// captures can be checked without a live session.
func (c *cli) classifyCmd() *cobra.Command {
	var lastOutput string
	cmd := &cobra.Command{
		Use:   "classify <tool>",
		Short: "Classify pane text from stdin and print the status as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var last time.Time
			if lastOutput != "" {
				t, err := time.Parse(time.RFC3339, lastOutput)
				if err != nil {
					return fmt.Errorf("--last-output: %w", err)
				}
				last = t
			}
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			classifier := tmux.Classifier{
				Profile:    c.cfg.Tool(args[0]).Profile,
				StaleAfter: c.cfg.ManagerOptions().StaleAfter,
			}
			d := classifier.Classify(string(data), last, time.Now())
			return output{w: cmd.OutOrStdout(), jsonMode: true}.JSON(d)
		},
	}
	cmd.Flags().StringVar(&lastOutput, "last-output", "", "time of the pane's last output (RFC3339)")
	return cmd
}
