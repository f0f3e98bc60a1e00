package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds connection flags for commands that talk to a running daemon.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

func addAPIFlags(c *cobra.Command, f *APIFlags) {
	c.Flags().StringVar(&f.URL, "api-url", "http://127.0.0.1:9090/api", "base URL of the simgate control API")
	c.Flags().DurationVar(&f.Timeout, "api-timeout", 10*time.Second, "per-request timeout")
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "simgate",
		Short: "Launch and health-gate a headless simulation backend",
		Long: `Simgate spawns the simulation backend executable, polls its health
endpoint until it answers or the retry budget runs out, and exposes a small
control API for the shell process.

Examples:
  simgate run --config=simgate.toml            # Launch and supervise the backend
  simgate run --config=simgate.toml --daemonize
  simgate wait                                 # Block until the backend is ready
  simgate status                               # Show process and gate state
  simgate stop                                 # Tear the launch down`,
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")

	root.AddCommand(
		createRunCommand(globalFlags),
		createStatusCommand(globalFlags),
		createWaitCommand(),
		createStopCommand(),
		createCheckCommand(globalFlags),
	)

	return root
}
