package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/governor"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/runner"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// stepsFromTags builds an ordered stage list from a comma-separated tag
// string, in the order given (the caller is responsible for respecting the
// pre-binary-before-post-binary invariant).
func stepsFromTags(tags string) []ppl.StageStep {
	var steps []ppl.StageStep
	for _, tag := range strings.Split(tags, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		steps = append(steps, ppl.StageStep{Name: tag, Algorithm: tag})
	}
	return steps
}

// writeSyntheticPayload writes n bytes of pseudo-random data to a new temp
// file and returns its path. Deterministic seed so repeated benchmark runs
// are comparable.
func writeSyntheticPayload(n int64) (string, error) {
	f, err := os.CreateTemp("", "adapipe-benchmark-*.bin")
	if err != nil {
		return "", err
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(42))
	buf := make([]byte, 1<<20)
	var written int64
	for written < n {
		chunk := buf
		if remaining := n - written; remaining < int64(len(chunk)) {
			chunk = buf[:remaining]
		}
		if _, err := rng.Read(chunk); err != nil {
			return "", err
		}
		if _, err := f.Write(chunk); err != nil {
			return "", err
		}
		written += int64(len(chunk))
	}
	return f.Name(), nil
}

func parseIntList(csv string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Benchmark runs the `benchmark` subcommand: process a synthetic payload at
// every combination of the given chunk sizes and worker counts (a full
// grid) and report throughput (spec.md's supplemented benchmark operation,
// grounded on the teacher's tests/benchmarks harness style of printing a
// results table).
func (a *App) Benchmark(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("benchmark", flag.ContinueOnError)
	sizeMB := fs.Int64("size-mb", 10, "synthetic payload size in megabytes")
	stagesFlag := fs.String("stages", "zstd", "comma-separated stage algorithm tags")
	chunkSizesFlag := fs.String("chunk-sizes-mb", "1,4,8", "comma-separated chunk sizes in megabytes to try")
	workersFlag := fs.String("workers-list", "3,5,9", "comma-separated worker counts to try")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}

	chunkSizesMB, err := parseIntList(*chunkSizesFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe benchmark: --chunk-sizes-mb:", err)
		return ExitGenericError
	}
	workerCounts, err := parseIntList(*workersFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe benchmark: --workers-list:", err)
		return ExitGenericError
	}

	inputFile, err := writeSyntheticPayload(*sizeMB * 1024 * 1024)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe benchmark:", err)
		return ExitGenericError
	}
	defer os.Remove(inputFile)

	registry, err := a.buildRegistry(stage.Keys{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe benchmark:", err)
		return ExitGenericError
	}
	steps := stepsFromTags(*stagesFlag)

	fmt.Printf("%-12s %-10s %-12s %-14s\n", "chunk_mb", "workers", "elapsed", "throughput_mbps")
	for _, chunkMB := range chunkSizesMB {
		for _, workers := range workerCounts {
			elapsed, outSize, err := runOnce(ctx, registry, inputFile, chunkMB, workers, steps)
			if err != nil {
				fmt.Fprintf(os.Stderr, "adapipe benchmark: chunk=%dMB workers=%d: %v\n", chunkMB, workers, err)
				continue
			}
			throughput := float64(*sizeMB) / elapsed.Seconds()
			fmt.Printf("%-12d %-10d %-12s %-14.2f (output %d bytes)\n", chunkMB, workers, elapsed.Round(time.Millisecond), throughput, outSize)
		}
	}
	return ExitSuccess
}

func runOnce(ctx context.Context, registry *stage.Registry, inputFile string, chunkMB, workers int, steps []ppl.StageStep) (time.Duration, int64, error) {
	inputPath, err := values.NewFilePath(inputFile, values.Input)
	if err != nil {
		return 0, 0, err
	}
	outFile, err := os.CreateTemp("", "adapipe-benchmark-out-*.adapipe")
	if err != nil {
		return 0, 0, err
	}
	outFile.Close()
	defer os.Remove(outFile.Name())

	outputPath, err := values.NewFilePath(outFile.Name(), values.Output)
	if err != nil {
		return 0, 0, err
	}
	chunkSize, err := parseChunkSize(chunkMB)
	if err != nil {
		return 0, 0, err
	}
	workerCount, err := parseWorkers(workers)
	if err != nil {
		return 0, 0, err
	}

	metricsSink, err := buildMetrics()
	if err != nil {
		return 0, 0, err
	}
	global := governor.NewGlobal(governor.Config{CPUTokens: workers, IOTokens: workers, Observer: metricsSink})
	local := governor.NewLocal(global, workerCount.Int())

	start := time.Now()
	result := runner.Run(ctx, runner.Config{
		InputPath:    inputPath,
		OutputPath:   outputPath,
		ChunkSize:    chunkSize,
		Workers:      workerCount,
		ChannelDepth: workers * 2,
		Steps:        steps,
		Operation:    stage.Forward,
		AppVersion:   appVersion,
		Registry:     registry,
		Local:        local,
		Metrics:      metricsSink,
	})
	elapsed := time.Since(start)
	if result.Err != nil {
		return 0, 0, result.Err
	}

	info, err := os.Stat(outFile.Name())
	if err != nil {
		return 0, 0, err
	}
	return elapsed, info.Size(), nil
}
