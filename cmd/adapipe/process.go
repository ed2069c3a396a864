package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/observability"
	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/governor"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/runner"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/repository"
)

// processFlags collects the shared --chunk-size-mb/--workers/--channel-depth/
// --cpu-tokens/--io-tokens/--storage-type knobs spec.md §6 names, plus the
// stage-selection flags process needs (benchmark and compare declare their
// own flags).
type processFlags struct {
	input        string
	output       string
	compress     string
	encrypt      string
	checksum     string
	aesKeyHex    string
	chachaKeyHex string
	chunkSizeMB  int
	workers      int
	channelDepth int
	cpuTokens    int
	ioTokens     int
	storageType  string
	fastCDC      bool
	pipelineID   string
}

func registerProcessFlags(fs *flag.FlagSet, pf *processFlags) {
	fs.StringVar(&pf.input, "input", "", "input file path")
	fs.StringVar(&pf.output, "output", "", "output .adapipe container path")
	fs.StringVar(&pf.compress, "compress", "", "compression algorithm (zstd, gzip, snappy, lz4, brotli)")
	fs.StringVar(&pf.encrypt, "encrypt", "", "encryption algorithm (aes256gcm, chacha20poly1305)")
	fs.StringVar(&pf.checksum, "checksum", "sha256", "checksum algorithm (sha256, sha512, blake3, none)")
	fs.StringVar(&pf.aesKeyHex, "aes-key", os.Getenv("ADAPIPE_AES_KEY_HEX"), "hex-encoded 32-byte AES-256-GCM key")
	fs.StringVar(&pf.chachaKeyHex, "chacha-key", os.Getenv("ADAPIPE_CHACHA_KEY_HEX"), "hex-encoded 32-byte ChaCha20-Poly1305 key")
	fs.IntVar(&pf.chunkSizeMB, "chunk-size-mb", 1, "chunk size in megabytes")
	fs.IntVar(&pf.workers, "workers", 5, "worker pool size")
	fs.IntVar(&pf.channelDepth, "channel-depth", 4, "bounded channel depth between pipeline stages")
	fs.IntVar(&pf.cpuTokens, "cpu-tokens", 0, "CPU permit pool size (0 = runtime.NumCPU()-1)")
	fs.IntVar(&pf.ioTokens, "io-tokens", 0, "IO permit pool size (0 = storage-type default)")
	fs.StringVar(&pf.storageType, "storage-type", "auto", "nvme, ssd, hdd, or auto")
	fs.BoolVar(&pf.fastCDC, "fastcdc", false, "use content-defined chunk boundaries instead of fixed-size")
	fs.StringVar(&pf.pipelineID, "pipeline-id", "", "pipeline id recorded in the container header")
}

// buildSteps translates the --compress/--encrypt/--checksum flags into an
// ordered stage list honoring spec.md §3's pre-binary-before-post-binary
// invariant: compression (pre-binary) always precedes encryption
// (post-binary), and the checksum (position any) is appended last.
func buildSteps(pf processFlags) []ppl.StageStep {
	var steps []ppl.StageStep
	if pf.compress != "" {
		steps = append(steps, ppl.StageStep{Name: pf.compress, Algorithm: pf.compress})
	}
	if pf.encrypt != "" {
		steps = append(steps, ppl.StageStep{Name: pf.encrypt, Algorithm: pf.encrypt})
	}
	if pf.checksum != "" && pf.checksum != "none" {
		steps = append(steps, ppl.StageStep{Name: pf.checksum, Algorithm: pf.checksum})
	}
	return steps
}

func (pf processFlags) keys() (stage.Keys, error) {
	aesKey, err := parseKeyHex(pf.aesKeyHex)
	if err != nil {
		return stage.Keys{}, fmt.Errorf("--aes-key: %w", err)
	}
	chachaKey, err := parseKeyHex(pf.chachaKeyHex)
	if err != nil {
		return stage.Keys{}, fmt.Errorf("--chacha-key: %w", err)
	}
	return stage.Keys{AES256GCM: aesKey, ChaCha20Poly1305: chachaKey}, nil
}

// Process runs the `process` subcommand: stream an input file through a
// pipeline, producing a .adapipe container (spec.md §6).
func (a *App) Process(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	var pf processFlags
	registerProcessFlags(fs, &pf)
	// Configured run defaults replace the built-in flag defaults; flags
	// given on the command line still win.
	if d := a.Config.Run; d.ChunkSizeMB > 0 {
		pf.chunkSizeMB = d.ChunkSizeMB
	}
	if d := a.Config.Run; d.Workers > 0 {
		pf.workers = d.Workers
	}
	if d := a.Config.Run; d.ChannelDepth > 0 {
		pf.channelDepth = d.ChannelDepth
	}
	if d := a.Config.Run; d.StorageType != "" {
		pf.storageType = d.StorageType
	}
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}

	if pf.input == "" || pf.output == "" {
		fmt.Fprintln(os.Stderr, "adapipe process: --input and --output are required")
		return ExitGenericError
	}

	inputPath, err := values.NewFilePath(pf.input, values.Input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe process:", err)
		return ExitGenericError
	}
	outputPath, err := values.NewFilePath(pf.output, values.Output)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe process:", err)
		return ExitGenericError
	}
	chunkSize, err := parseChunkSize(pf.chunkSizeMB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe process:", err)
		return ExitGenericError
	}
	workers, err := parseWorkers(pf.workers)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe process:", err)
		return ExitGenericError
	}

	keys, err := pf.keys()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe process:", err)
		return ExitGenericError
	}
	registry, err := a.buildRegistry(keys)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe process:", err)
		return ExitGenericError
	}

	metricsSink, err := buildMetrics()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe process:", err)
		return ExitGenericError
	}
	obsSink := observability.NewSink()
	metricsSink.AttachObservability(obsSink)
	stopMetricsServer := startMetricsServer(a.Log, a.Config.Server.MetricsPort, obsSink)
	defer stopMetricsServer()

	run := a.Config.Run
	run.StorageType = pf.storageType
	if pf.cpuTokens > 0 {
		run.CPUTokens = pf.cpuTokens
	}
	if pf.ioTokens > 0 {
		run.IOTokens = pf.ioTokens
	}

	global := buildGovernor(run, metricsSink)
	local := governor.NewLocal(global, workers.Int())

	obsSink.ActivePipelines.Inc()
	defer obsSink.ActivePipelines.Dec()
	obsSink.CPUPermitsAvailable.Set(float64(global.AvailableCPU()))
	obsSink.IOPermitsAvailable.Set(float64(global.AvailableIO()))

	startedAt := time.Now().UTC()
	result := runner.Run(ctx, runner.Config{
		InputPath:    inputPath,
		OutputPath:   outputPath,
		ChunkSize:    chunkSize,
		Workers:      workers,
		ChannelDepth: pf.channelDepth,
		Steps:        buildSteps(pf),
		Operation:    stage.Forward,
		PipelineID:   pf.pipelineID,
		AppVersion:   appVersion,
		FastCDC:      pf.fastCDC,
		Registry:     registry,
		Local:        local,
		Metrics:      metricsSink,
	})
	obsSink.PipelineProcessingDuration.Observe(time.Since(startedAt).Seconds())
	obsSink.MemoryUsedBytes.Set(float64(global.MemoryUsed()))
	if result.Err == nil {
		obsSink.PipelinesProcessedTotal.Inc()
	}

	a.recordRunBestEffort(ctx, pf.pipelineID, startedAt, result)

	return reportResult(a, "process", result)
}

// recordRunBestEffort persists a processing_metrics row for the run when
// --pipeline-id names a stored pipeline. Failure here is logged, not
// propagated: losing run metadata never endangers restoration, which
// depends solely on the container's self-description (spec.md §9 design
// note "Repository and format decoupling").
func (a *App) recordRunBestEffort(ctx context.Context, pipelineID string, startedAt time.Time, result runner.Result) {
	if pipelineID == "" {
		return
	}
	pid, err := values.ParsePipelineID(pipelineID)
	if err != nil {
		return
	}
	repo, closeFn, err := a.openRepository()
	if err != nil {
		a.Log.Warn("skipping run metadata: repository unavailable", zap.Error(err))
		return
	}
	defer closeFn()

	rec := repository.RunRecord{
		PipelineID:  pid,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		ChunkCount:  result.ChunkCount,
		Succeeded:   result.Err == nil,
	}
	if result.Err != nil {
		rec.ErrorMessage = result.Err.Error()
	}
	if err := repo.RecordRun(ctx, rec); err != nil {
		a.Log.Warn("failed to persist run metadata", zap.Error(err))
	}
}

// appVersion is recorded in every container header's app_version field.
const appVersion = "1.0.0"

// reportResult logs and prints a run's outcome and maps it to the process
// exit code spec.md §6 documents.
func reportResult(a *App, op string, result runner.Result) int {
	if result.Err != nil {
		a.Log.Error(op+" failed", zap.Error(result.Err), zap.Stringer("state", stateStringer{result.State}))
		fmt.Fprintf(os.Stderr, "adapipe %s: %v\n", op, result.Err)
		return exitCodeFor(result)
	}
	a.Log.Info(op+" complete",
		zap.Stringer("state", stateStringer{result.State}),
		zap.Uint32("chunk_count", result.ChunkCount),
	)
	fmt.Printf("%s complete: %d chunks, %d bytes, checksum %s\n", op, result.ChunkCount, result.OriginalSize, result.OriginalChecksum)
	return ExitSuccess
}

type stateStringer struct{ s runner.State }

func (s stateStringer) String() string { return s.s.String() }

func exitCodeFor(result runner.Result) int {
	switch {
	case result.State == runner.StateCancelled:
		return ExitCancelledError
	case errors.Is(result.Err, ppl.ErrIntegrity):
		return ExitIntegrityError
	case errors.Is(result.Err, ppl.ErrInvalidFormat), errors.Is(result.Err, ppl.ErrUnsupportedVersion):
		return ExitUnsupportedFormat
	case errors.Is(result.Err, ppl.ErrNotFound), errors.Is(result.Err, ppl.ErrPermissionDenied),
		errors.Is(result.Err, ppl.ErrDiskFull), errors.Is(result.Err, ppl.ErrTruncatedInput):
		return ExitIOError
	default:
		return ExitGenericError
	}
}
