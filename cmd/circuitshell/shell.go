package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"circuitshell/cmd/circuitshell/shell"
	"circuitshell/internal/channel"
	"circuitshell/internal/completion"
	"circuitshell/internal/config"
	"circuitshell/internal/history"
	"circuitshell/internal/logging"
	"circuitshell/internal/protocol"
	"circuitshell/internal/session"
	"circuitshell/internal/worker"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive shell",
	RunE:  runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if cfg.Session.Mode == "device-repl" {
		return runDeviceREPL()
	}

	// History persistence is best effort; the shell works without it.
	var store session.HistoryStore
	if s, err := history.Open(cfg.StateDir); err == nil {
		defer s.Close()
		store = s
	} else {
		logging.Get(logging.CategoryHistory).Warn("history disabled: %v", err)
	}

	faults := make(chan error, 1)
	progress := make(chan protocol.ProgressEvent, 8)
	ch := channel.New(buildTransport(cfg), channel.Options{
		DefaultTimeout: cfg.GetCommandTimeout(),
		SweepInterval:  cfg.GetSweepInterval(),
		OnFault: func(err error) {
			select {
			case faults <- err:
			default:
			}
		},
		OnProgress: func(ev protocol.ProgressEvent) {
			select {
			case progress <- ev:
			default:
			}
		},
	})
	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("starting worker channel: %w", err)
	}
	defer ch.Close()

	var ctrl *session.Controller
	ctrl = session.New(session.Options{
		Mode:         session.Mode(cfg.Session.Mode),
		Transport:    session.Direct{Channel: ch},
		Bridge:       completion.NewProvider(func() []string { return ctrl.History() }),
		History:      store,
		HistoryLimit: cfg.Session.HistoryLimit,
	})

	if cfg.Board.ProfilePath != "" {
		go applyBoardProfile(ctx, ch, cfg)
	}

	model := shell.New(shell.Options{
		Controller: ctrl,
		Channel:    ch,
		Faults:     faults,
		Progress:   progress,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running shell: %w", err)
	}
	return nil
}

// runDeviceREPL attaches to an external REPL over a pty and forwards
// keystrokes raw. No worker channel exists in this mode.
func runDeviceREPL() error {
	pt, err := session.StartPTY(cfg.Session.DeviceCommand, cfg.Session.DeviceArgs...)
	if err != nil {
		return fmt.Errorf("starting device repl: %w", err)
	}
	defer pt.Close()

	var store session.HistoryStore
	if s, err := history.Open(cfg.StateDir); err == nil {
		defer s.Close()
		store = s
	}

	ctrl := session.New(session.Options{
		Mode:         session.ModeDeviceREPL,
		Transport:    session.PassThrough{Proc: pt},
		History:      store,
		HistoryLimit: cfg.Session.HistoryLimit,
	})
	ctrl.HandleReady()

	model := shell.New(shell.Options{Controller: ctrl})
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running shell: %w", err)
	}
	return nil
}

// buildTransport picks the worker hosting mode: a subprocess speaking
// stdio envelopes by default, or an in-process worker when configured.
func buildTransport(cfg *config.Config) channel.Transport {
	if cfg.Worker.InProcess {
		return channel.NewPipeTransport(worker.New(worker.Options{
			HeapSizeBytes: cfg.Worker.HeapSizeBytes,
		}))
	}

	command := cfg.Worker.Command
	wargs := cfg.Worker.Args
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			exe = os.Args[0]
		}
		command = exe
		wargs = []string{"worker", "--config", configPath}
	}
	return channel.NewStdioTransport(command, wargs...)
}

// applyBoardProfile configures the worker from the profile file once
// the runtime is ready, then keeps it in sync while watching is on.
func applyBoardProfile(ctx context.Context, ch *channel.Channel, cfg *config.Config) {
	log := logging.Get(logging.CategoryConfig)

	if _, err := ch.WaitReady(ctx); err != nil {
		return
	}

	payload, err := config.LoadBoardProfile(cfg.Board.ProfilePath)
	if err != nil {
		log.Warn("board profile not applied: %v", err)
		return
	}
	if err := configureHardware(ctx, ch, payload); err != nil {
		log.Warn("configuring hardware: %v", err)
	}

	if !cfg.Board.WatchProfile {
		return
	}
	err = config.WatchBoardProfile(ctx, cfg.Board.ProfilePath, func(p *protocol.ConfigurePayload) {
		if err := configureHardware(ctx, ch, p); err != nil {
			log.Warn("reconfiguring hardware: %v", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("profile watcher stopped: %v", err)
	}
}

func configureHardware(ctx context.Context, ch *channel.Channel, payload *protocol.ConfigurePayload) error {
	resp, err := ch.Call(ctx, channel.KindConfigure, protocol.TypeConfigure, payload)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("worker rejected configuration: %s", resp.Error)
	}
	return nil
}
