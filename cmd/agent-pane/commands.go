package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asheshgoplani/agent-pane/internal/session"
)

func (c *cli) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <workspace> <tool>",
		Short: "Start the assistant for a workspace, or reuse a healthy session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.openApp(cmd.Context())
			defer a.Close()
			if err := a.mgr.StartOrReuseSession(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			name := session.SessionName(args[0], args[1])
			return output{w: cmd.OutOrStdout()}.Success("session "+name+" is ready", nil)
		},
	}
}

func (c *cli) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <workspace> <tool> <text|->",
		Short: "Type a message into the assistant (\"-\" reads it from stdin)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readMessage(args[2], cmd.InOrStdin())
			if err != nil {
				return err
			}
			a := c.openApp(cmd.Context())
			defer a.Close()
			if err := a.mgr.SendMessage(cmd.Context(), args[0], args[1], text); err != nil {
				return err
			}
			return output{w: cmd.OutOrStdout()}.Success(fmt.Sprintf("sent %d bytes", len(text)), nil)
		},
	}
}

// readMessage returns arg, or all of stdin when arg is "-". A single
// trailing newline from stdin is dropped since Enter is sent separately.
func readMessage(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	text = strings.TrimSuffix(text, "\r")
	if text == "" {
		return "", fmt.Errorf("empty message on stdin")
	}
	return text, nil
}

func (c *cli) statusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status <workspace> <tool>",
		Short: "Classify what the assistant is doing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.openApp(cmd.Context())
			defer a.Close()
			d, err := a.mgr.GetStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return output{w: cmd.OutOrStdout(), jsonMode: jsonOut}.Print(formatStatus(d), d)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the status descriptor as JSON")
	return cmd
}

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <workspace> <tool>",
		Short: "Kill the assistant's tmux session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.openApp(cmd.Context())
			defer a.Close()
			killed, err := a.mgr.StopSession(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			name := session.SessionName(args[0], args[1])
			if !killed {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s was not running\n", name)
				return err
			}
			return output{w: cmd.OutOrStdout()}.Success("stopped "+name, nil)
		},
	}
}

func (c *cli) interruptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt <workspace> <tool>",
		Short: "Press Escape in the session to stop the current turn",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.openApp(cmd.Context())
			defer a.Close()
			if err := a.mgr.Interrupt(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return output{w: cmd.OutOrStdout()}.Success("interrupted", nil)
		},
	}
}

func (c *cli) attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <workspace> <tool>",
		Short: "Attach the terminal to the session (Ctrl+Q detaches)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.openApp(cmd.Context())
			defer a.Close()
			name := session.SessionName(args[0], args[1])
			exists, err := a.client.HasSession(cmd.Context(), name)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s (run start first)", session.ErrSessionNotFound, name)
			}
			return a.client.Attach(cmd.Context(), name)
		},
	}
}
