package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/config"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/database"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/observability"
	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/governor"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/repository"
)

// App carries the process-wide collaborators every subcommand shares: the
// loaded configuration and the structured logger. The resource governor,
// stage registry, and repository are process-wide per spec.md §9 ("Global
// state") but are constructed lazily per invocation here since the CLI is
// a one-shot process, not a long-running server.
type App struct {
	Config config.Config
	Log    *zap.Logger
}

// buildRegistry constructs and populates a stage registry from keys parsed
// out of CLI flags / environment, refusing to synthesize keys itself
// (spec.md §9 Open Question iii; internal/pipeline/stage/builtin.go).
func (a *App) buildRegistry(keys stage.Keys) (*stage.Registry, error) {
	r := stage.NewRegistry()
	if err := stage.RegisterBuiltins(r, keys); err != nil {
		return nil, fmt.Errorf("build stage registry: %w", err)
	}
	return r, nil
}

// parseKeyHex decodes an optional hex-encoded key flag. An empty string is
// not an error: it means the caller did not request that algorithm.
func parseKeyHex(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	return key, nil
}

// deviceType maps the --storage-type flag to a governor.DeviceType
// (spec.md §4.3 device table).
func deviceType(storageType string) governor.DeviceType {
	switch storageType {
	case "nvme":
		return governor.DeviceNVMe
	case "ssd":
		return governor.DeviceSSD
	case "hdd":
		return governor.DeviceHDD
	default:
		return governor.DeviceAuto
	}
}

// buildGovernor constructs the process-wide resource governor for one CLI
// invocation, sized from run config (spec.md §4.3, §6 --cpu-tokens/
// --io-tokens/--storage-type flags).
func buildGovernor(run config.PipelineRunConfig, observer governor.WaitObserver) *governor.Global {
	cpuTokens := run.CPUTokens
	if cpuTokens <= 0 {
		cpuTokens = runtime.NumCPU() - 1
		if cpuTokens < 1 {
			cpuTokens = 1
		}
	}
	ioTokens := run.IOTokens
	if ioTokens <= 0 {
		ioTokens = deviceType(run.StorageType).DefaultIODepth()
	}
	return governor.NewGlobal(governor.Config{
		CPUTokens:        cpuTokens,
		IOTokens:         ioTokens,
		MemoryLimitBytes: run.MemoryLimitBytes,
		Observer:         observer,
	})
}

// openRepository opens the configured PipelineRepository adapter. Only a
// Postgres-backed adapter is implemented (spec.md §6 names the port as
// storage-agnostic; this CLI wires the one concrete adapter the repository
// package ships).
func (a *App) openRepository() (*repository.PostgresRepository, func() error, error) {
	dbCfg := database.Config{
		Host:            a.Config.Repository.Host,
		Port:            a.Config.Repository.Port,
		Database:        a.Config.Repository.Database,
		User:            a.Config.Repository.User,
		Password:        a.Config.Repository.Password,
		SSLMode:         a.Config.Repository.SSLMode,
		MaxOpenConns:    a.Config.Repository.MaxOpenConns,
		MaxIdleConns:    a.Config.Repository.MaxIdleConns,
		ConnMaxLifetime: a.Config.Repository.ConnMaxLifetime,
	}
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open repository: %w", err)
	}
	return repository.NewPostgresRepository(db), db.Close, nil
}

// parseChunkSize validates a --chunk-size-mb flag value.
func parseChunkSize(mb int) (values.ChunkSize, error) {
	return values.NewChunkSize(int64(mb) * 1024 * 1024)
}

// parseWorkers validates a --workers flag value.
func parseWorkers(n int) (values.WorkerCount, error) {
	return values.NewWorkerCount(n)
}

// buildMetrics constructs a fresh RunMetrics, so that repeated CLI
// invocations in the same test process never collide on metric state (the
// long-running `list`/`show` path would instead share one process-wide
// instance, but the CLI is one-shot).
func buildMetrics() (*ppl.RunMetrics, error) {
	return ppl.NewRunMetrics()
}

// startMetricsServer exposes a Prometheus sink's registry over HTTP on
// the configured server.metrics_port (config file or ADAPIPE_METRICS_PORT;
// spec.md §6 observability port), grounded on the
// teacher's internal/api.Metrics.Handler wired to a net/http.Server.
// A port of 0 disables the endpoint. The returned shutdown func blocks for
// up to 2s draining in-flight scrapes; it is safe to call even if the
// server never started.
func startMetricsServer(log *zap.Logger, port int, sink *observability.Sink) (shutdown func()) {
	if port <= 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", sink.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
