package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/runner"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// Restore runs the `restore` subcommand: reconstruct the original file from
// a .adapipe container (spec.md §6).
func (a *App) Restore(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	container := fs.String("container", "", "path to the .adapipe container")
	output := fs.String("output", "", "path to write the reconstructed file")
	aesKeyHex := fs.String("aes-key", os.Getenv("ADAPIPE_AES_KEY_HEX"), "hex-encoded 32-byte AES-256-GCM key")
	chachaKeyHex := fs.String("chacha-key", os.Getenv("ADAPIPE_CHACHA_KEY_HEX"), "hex-encoded 32-byte ChaCha20-Poly1305 key")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}

	if *container == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "adapipe restore: --container and --output are required")
		return ExitGenericError
	}

	containerPath, err := values.NewFilePath(*container, values.Input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe restore:", err)
		return ExitGenericError
	}
	outputPath, err := values.NewFilePath(*output, values.Output)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe restore:", err)
		return ExitGenericError
	}

	aesKey, err := parseKeyHex(*aesKeyHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe restore: --aes-key:", err)
		return ExitGenericError
	}
	chachaKey, err := parseKeyHex(*chachaKeyHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe restore: --chacha-key:", err)
		return ExitGenericError
	}
	registry, err := a.buildRegistry(stage.Keys{AES256GCM: aesKey, ChaCha20Poly1305: chachaKey})
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe restore:", err)
		return ExitGenericError
	}

	metricsSink, err := buildMetrics()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe restore:", err)
		return ExitGenericError
	}

	result, err := runner.Restore(ctx, runner.RestoreConfig{
		ContainerPath: containerPath,
		OutputPath:    outputPath,
		Registry:      registry,
		Metrics:       metricsSink,
	})
	if err != nil {
		result.Err = err
	}

	return reportResult(a, "restore", result)
}
