// Command adapipe is the CLI entry point for the adaptive file-processing
// pipeline: argument parsing, signal handling, and exit codes, dispatching
// into internal/pipeline for everything else (spec.md §6).
//
// Grounded on cmd/vaultaire/main.go's bootstrap shape (zap logger built at
// startup, config loaded from env/file and kept live via a file watcher,
// signal.Notify on SIGINT/SIGTERM, graceful shutdown with a bounded grace
// period) generalized from an HTTP server's lifecycle to a one-shot
// subcommand dispatcher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/config"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/logger"
)

// Exit codes (spec.md §6).
const (
	ExitSuccess          = 0
	ExitGenericError     = 1
	ExitConfigError      = 2
	ExitIOError          = 3
	ExitIntegrityError   = 4
	ExitCancelledError   = 5
	ExitUnsupportedFormat = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitGenericError
	}

	configPath := config.GetEnvOrDefault("ADAPIPE_CONFIG", "")
	watcher, err := config.NewWatcher(configPath, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe: load config:", err)
		return ExitConfigError
	}
	defer watcher.Close()
	cfg := watcher.Current()

	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe: build logger:", err)
		return ExitConfigError
	}
	defer func() { _ = log.Sync() }()
	watcher.SetOnChange(func(next config.Config) {
		log.Info("configuration reloaded", zap.String("path", configPath))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// Re-read Current() rather than reusing cfg: a file edit between process
	// start and subcommand dispatch (config.Watcher's fsnotify goroutine
	// already running) should govern this invocation's defaults.
	app := &App{Config: watcher.Current(), Log: log}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "process":
		return app.Process(ctx, rest)
	case "restore":
		return app.Restore(ctx, rest)
	case "validate":
		return app.ValidatePipeline(ctx, rest)
	case "validatefile":
		return app.ValidateFile(ctx, rest)
	case "create":
		return app.Create(ctx, rest)
	case "list":
		return app.List(ctx, rest)
	case "show":
		return app.Show(ctx, rest)
	case "delete":
		return app.Delete(ctx, rest)
	case "benchmark":
		return app.Benchmark(ctx, rest)
	case "compare":
		return app.Compare(ctx, rest)
	case "-h", "--help", "help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "adapipe: unknown command %q\n", cmd)
		printUsage()
		return ExitGenericError
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: adapipe <command> [flags]

commands:
  process       run an input file through a pipeline, producing a .adapipe container
  restore       reconstruct the original file from a .adapipe container
  validate      check a stored pipeline definition's structural invariants
  validatefile  check a .adapipe container's trailer/header without restoring it
  create        define and persist a new pipeline
  list          list stored pipelines
  show          show one stored pipeline's stages and configuration
  delete        delete a stored pipeline
  benchmark     run a pipeline against a synthetic payload at several settings
  compare       run one input through two pipelines and report size/throughput deltas`)
}
