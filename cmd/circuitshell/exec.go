package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"circuitshell/internal/channel"
	"circuitshell/internal/config"
	"circuitshell/internal/protocol"
	"circuitshell/internal/worker"
)

var (
	execFile     string
	execSnapshot bool
)

// execCmd runs one snippet through an in-process worker and exits.
// Useful for scripting and for smoke-testing board profiles.
var execCmd = &cobra.Command{
	Use:   "exec [code]",
	Short: "Execute one snippet and print its output",
	Long: `Runs a snippet (from the argument or --file) in a fresh
runtime and prints its output. With --snapshot the final hardware
state is printed as JSON on stderr.

Example:
  circuitshell exec 'board.LED'
  circuitshell exec --file blink.gos --snapshot`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execFile, "file", "", "read code from a file")
	execCmd.Flags().BoolVar(&execSnapshot, "snapshot", false, "print the final hardware snapshot as JSON")
}

func runExec(cmd *cobra.Command, args []string) error {
	code, mode, err := execInput(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ch := channel.New(
		channel.NewPipeTransport(worker.New(worker.Options{HeapSizeBytes: cfg.Worker.HeapSizeBytes})),
		channel.Options{DefaultTimeout: cfg.GetCommandTimeout()},
	)
	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer ch.Close()

	if _, err := ch.WaitReady(ctx); err != nil {
		return fmt.Errorf("runtime not ready: %w", err)
	}

	if cfg.Board.ProfilePath != "" {
		payload, err := config.LoadBoardProfile(cfg.Board.ProfilePath)
		if err != nil {
			return err
		}
		if err := configureHardware(ctx, ch, payload); err != nil {
			return err
		}
	}

	resp, err := ch.Call(ctx, channel.KindExecute, protocol.TypeExecute, protocol.ExecutePayload{
		Code:                     code,
		Mode:                     mode,
		EnableHardwareMonitoring: true,
	})
	if err != nil {
		return err
	}

	var result protocol.ExecuteResult
	if resp.Result != nil {
		_ = json.Unmarshal(resp.Result, &result)
	}
	if result.Output != "" {
		fmt.Print(result.Output)
		if !strings.HasSuffix(result.Output, "\n") {
			fmt.Println()
		}
	}

	if execSnapshot && resp.HardwareSnapshot != nil {
		blob, err := json.MarshalIndent(resp.HardwareSnapshot, "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stderr, string(blob))
		}
	}

	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

// execInput resolves the snippet: a file implies whole-buffer framing,
// a bare argument runs as a single REPL line.
func execInput(args []string) (string, protocol.ExecMode, error) {
	if execFile != "" {
		data, err := os.ReadFile(execFile)
		if err != nil {
			return "", "", fmt.Errorf("reading code file: %w", err)
		}
		return string(data), protocol.ModeFile, nil
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], protocol.ModeREPL, nil
	}
	return "", "", fmt.Errorf("provide code as an argument or via --file")
}
