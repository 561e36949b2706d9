// circuitshell is a terminal playground for CircuitPython-style
// hardware experiments. The same binary hosts both sides of the
// protocol: `circuitshell` (or `circuitshell shell`) runs the
// interactive session, `circuitshell worker` runs the runtime worker
// loop over stdio, and `circuitshell exec` runs one snippet and exits.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"circuitshell/internal/config"
	"circuitshell/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "0.3.0"

var (
	configPath string
	debugMode  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "circuitshell",
	Short: "circuitshell - embedded CircuitPython-style playground",
	Long: `circuitshell hosts a sandboxed interpreter with a simulated
board: 20 GPIO pins, a temperature sensor, and a light sensor. Code you
type is executed in an isolated runtime worker; pin and sensor state
reacts heuristically to what the code touches.

Run without arguments to start the interactive shell.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debugMode {
			cfg.Logging.DebugMode = true
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// The worker logs to stderr only; file logs belong to the
		// controller side.
		if cmd.Name() == "worker" {
			return nil
		}
		return logging.Initialize(cfg.StateDir, cfg.LoggingConfig())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the circuitshell version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("circuitshell %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
