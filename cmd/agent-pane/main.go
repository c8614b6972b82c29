package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/asheshgoplani/agent-pane/internal/logging"
	"github.com/asheshgoplani/agent-pane/internal/session"
)

const Version = "0.1.0"

var cliLog = logging.ForComponent(logging.CompCLI)

// cli carries global flags and the config loaded for the running command.
type cli struct {
	configPath string
	debug      bool
	cfg        *session.UserConfig
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "agent-pane",
		Short:         "Run AI coding assistants in tmux and talk to them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Shutdown()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $AGENTPANE_HOME/config.toml)")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "debug logging, mirrored to stderr")

	root.AddCommand(
		c.startCmd(),
		c.sendCmd(),
		c.statusCmd(),
		c.stopCmd(),
		c.interruptCmd(),
		c.attachCmd(),
		c.listCmd(),
		c.historyCmd(),
		c.classifyCmd(),
		c.watchCmd(),
		versionCmd(),
	)
	return root
}

// setup loads config and starts logging. A broken config file is reported
// and the defaults are used.
func (c *cli) setup(cmd *cobra.Command) error {
	if c.configPath != "" {
		session.SetUserConfigPath(c.configPath)
	}
	cfg, err := session.LoadUserConfig()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v (using defaults)\n", err)
	}
	c.cfg = cfg

	dir, err := session.AgentPaneDir()
	if err != nil {
		return err
	}
	logging.Init(cfg.LoggingConfig(dir, c.debug))
	cliLog.Debug("command_started", slog.String("command", cmd.CommandPath()), slog.Int("pid", os.Getpid()))
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agent-pane v%s\n", Version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
