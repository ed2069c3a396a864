package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/governor"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/runner"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// Compare runs the `compare` subcommand: process the same input through two
// differently-configured pipelines and report the size/throughput delta
// (spec.md's supplemented compare operation).
func (a *App) Compare(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	input := fs.String("input", "", "input file path")
	stagesA := fs.String("pipeline-a", "", "comma-separated stage tags for pipeline A")
	stagesB := fs.String("pipeline-b", "", "comma-separated stage tags for pipeline B")
	chunkMB := fs.Int("chunk-size-mb", 1, "chunk size in megabytes")
	workers := fs.Int("workers", 5, "worker pool size")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}
	if *input == "" || *stagesA == "" || *stagesB == "" {
		fmt.Fprintln(os.Stderr, "adapipe compare: --input, --pipeline-a, and --pipeline-b are required")
		return ExitGenericError
	}

	registry, err := a.buildRegistry(stage.Keys{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe compare:", err)
		return ExitGenericError
	}

	inputPath, err := values.NewFilePath(*input, values.Input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe compare:", err)
		return ExitGenericError
	}
	info, err := os.Stat(inputPath.String())
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe compare:", err)
		return ExitIOError
	}

	resA, outSizeA, elapsedA, err := runCompareLeg(ctx, registry, *input, *stagesA, *chunkMB, *workers)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe compare: pipeline A:", err)
		return exitCodeFor(resA)
	}
	resB, outSizeB, elapsedB, err := runCompareLeg(ctx, registry, *input, *stagesB, *chunkMB, *workers)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe compare: pipeline B:", err)
		return exitCodeFor(resB)
	}

	fmt.Printf("input:      %d bytes\n", info.Size())
	fmt.Printf("pipeline A: %-30s output=%d bytes elapsed=%s throughput=%.2f MB/s\n",
		*stagesA, outSizeA, elapsedA.Round(time.Millisecond), throughputMBps(info.Size(), elapsedA))
	fmt.Printf("pipeline B: %-30s output=%d bytes elapsed=%s throughput=%.2f MB/s\n",
		*stagesB, outSizeB, elapsedB.Round(time.Millisecond), throughputMBps(info.Size(), elapsedB))

	if outSizeA != outSizeB {
		delta := float64(outSizeB-outSizeA) / float64(outSizeA) * 100
		fmt.Printf("size delta: B is %.1f%% %s than A\n", abs(delta), direction(delta))
	}
	return ExitSuccess
}

func runCompareLeg(ctx context.Context, registry *stage.Registry, inputFile, tags string, chunkMB, workers int) (runner.Result, int64, time.Duration, error) {
	inputPath, err := values.NewFilePath(inputFile, values.Input)
	if err != nil {
		return runner.Result{}, 0, 0, err
	}
	outFile, err := os.CreateTemp("", "adapipe-compare-*.adapipe")
	if err != nil {
		return runner.Result{}, 0, 0, err
	}
	outFile.Close()
	defer os.Remove(outFile.Name())

	outputPath, err := values.NewFilePath(outFile.Name(), values.Output)
	if err != nil {
		return runner.Result{}, 0, 0, err
	}
	chunkSize, err := parseChunkSize(chunkMB)
	if err != nil {
		return runner.Result{}, 0, 0, err
	}
	workerCount, err := parseWorkers(workers)
	if err != nil {
		return runner.Result{}, 0, 0, err
	}

	metricsSink, err := buildMetrics()
	if err != nil {
		return runner.Result{}, 0, 0, err
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
		Steps:        stepsFromTags(tags),
		Operation:    stage.Forward,
		AppVersion:   appVersion,
		Registry:     registry,
		Local:        local,
		Metrics:      metricsSink,
	})
	elapsed := time.Since(start)
	if result.Err != nil {
		return result, 0, elapsed, result.Err
	}

	info, err := os.Stat(outFile.Name())
	if err != nil {
		return result, 0, elapsed, err
	}
	return result, info.Size(), elapsed, nil
}

func throughputMBps(inputBytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(inputBytes) / (1024 * 1024) / elapsed.Seconds()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func direction(delta float64) string {
	if delta < 0 {
		return "smaller"
	}
	return "larger"
}
