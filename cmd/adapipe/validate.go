package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/container"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/repository"
)

// ValidatePipeline runs the `validate` subcommand: load a stored pipeline
// definition and check its structural invariants without processing any
// data (spec.md §3 Pipeline.Validate).
func (a *App) ValidatePipeline(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	id := fs.String("id", "", "pipeline id")
	name := fs.String("name", "", "pipeline name (alternative to --id)")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}
	if *id == "" && *name == "" {
		fmt.Fprintln(os.Stderr, "adapipe validate: --id or --name is required")
		return ExitGenericError
	}

	repo, closeFn, err := a.openRepository()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe validate:", err)
		return ExitConfigError
	}
	defer closeFn()

	p, err := lookupPipeline(ctx, repo, *id, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe validate:", err)
		return ExitIOError
	}

	registry, err := a.buildRegistry(stage.Keys{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe validate:", err)
		return ExitGenericError
	}

	if err := p.Validate(registry); err != nil {
		fmt.Fprintln(os.Stderr, "adapipe validate: invalid:", err)
		return ExitGenericError
	}

	fmt.Printf("pipeline %q (%s) is valid: %d stage(s)\n", p.Name(), p.ID(), len(p.Stages()))
	return ExitSuccess
}

// lookupPipeline resolves a pipeline by id when one is given, otherwise by
// name; a failed id lookup does not fall back to the name.
func lookupPipeline(ctx context.Context, repo repository.PipelineRepository, id, name string) (*ppl.Pipeline, error) {
	if id != "" {
		pid, err := values.ParsePipelineID(id)
		if err != nil {
			return nil, err
		}
		return repo.FindByID(ctx, pid)
	}
	return repo.FindByName(ctx, name)
}

// ValidateFile runs the `validatefile` subcommand: open a .adapipe
// container and report its trailer/header well-formedness without
// restoring any data (spec.md's supplemented validatefile operation).
func (a *App) ValidateFile(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("validatefile", flag.ContinueOnError)
	path := fs.String("container", "", "path to the .adapipe container")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "adapipe validatefile: --container is required")
		return ExitGenericError
	}

	r, err := container.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe validatefile:", err)
		return ExitUnsupportedFormat
	}
	defer r.Close()

	if err := r.VerifyBody(); err != nil {
		fmt.Fprintln(os.Stderr, "adapipe validatefile:", err)
		return ExitIntegrityError
	}

	fmt.Printf("format_version=%d app_version=%s original_size=%d chunk_count=%d steps=%d checksum=%s output_checksum=%s\n",
		r.Header.FormatVersion, r.Header.AppVersion, r.Header.OriginalSize, r.Header.ChunkCount,
		len(r.Header.ProcessingSteps), r.Header.OriginalChecksum, r.Header.OutputChecksum)
	return ExitSuccess
}
