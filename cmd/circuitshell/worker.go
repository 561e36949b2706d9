package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"circuitshell/internal/worker"
)

// workerCmd runs the runtime worker loop: requests on stdin, responses
// on stdout, structured logs on stderr. stdout carries envelopes only.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the runtime worker over stdio",
	Long: `Runs the interpreter worker half of the session protocol.
Normally spawned by the shell; reads request envelopes from stdin and
writes response envelopes to stdout, one JSON object per line.`,
	Hidden: true,
	RunE:   runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger, err := buildWorkerLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	w := worker.New(worker.Options{
		HeapSizeBytes: cfg.Worker.HeapSizeBytes,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve watches the context itself, so a termination signal deinits
	// the interpreter and exits even while blocked reading stdin.
	if err := w.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", zap.Error(err))
		return err
	}
	return nil
}

// buildWorkerLogger writes structured logs to stderr so stdout stays a
// clean envelope stream.
func buildWorkerLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Logging.DebugMode {
		level = zapcore.DebugLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
