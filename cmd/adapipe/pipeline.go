package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// Create runs the `create` subcommand: define and persist a new pipeline
// from a comma-separated stage list (spec.md §6 persistence port).
func (a *App) Create(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	name := fs.String("name", "", "pipeline name")
	stages := fs.String("stages", "", "comma-separated algorithm tags, applied in order (e.g. zstd,aes256gcm,sha256)")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}
	if *name == "" || *stages == "" {
		fmt.Fprintln(os.Stderr, "adapipe create: --name and --stages are required")
		return ExitGenericError
	}

	registry, err := a.buildRegistry(stage.Keys{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe create:", err)
		return ExitGenericError
	}

	now := time.Now().UTC()
	p, err := ppl.NewPipeline(*name, now)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe create:", err)
		return ExitGenericError
	}

	for _, tag := range strings.Split(*stages, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		svc, err := registry.Lookup(tag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "adapipe create:", err)
			return ExitGenericError
		}
		cfg := ppl.StageConfiguration{Algorithm: values.NewAlgorithm(tag)}
		s, err := ppl.NewPipelineStage(tag, svc.StageType(), cfg, 0, now)
		if err != nil {
			fmt.Fprintln(os.Stderr, "adapipe create:", err)
			return ExitGenericError
		}
		p.AddStage(s, now)
	}

	if err := p.Validate(registry); err != nil {
		fmt.Fprintln(os.Stderr, "adapipe create: invalid pipeline:", err)
		return ExitGenericError
	}

	repo, closeFn, err := a.openRepository()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe create:", err)
		return ExitConfigError
	}
	defer closeFn()

	if err := repo.Save(ctx, p); err != nil {
		fmt.Fprintln(os.Stderr, "adapipe create:", err)
		return ExitIOError
	}

	fmt.Printf("created pipeline %q (%s)\n", p.Name(), p.ID())
	return ExitSuccess
}

// List runs the `list` subcommand: print every stored pipeline.
func (a *App) List(ctx context.Context, args []string) int {
	repo, closeFn, err := a.openRepository()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe list:", err)
		return ExitConfigError
	}
	defer closeFn()

	pipelines, err := repo.List(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe list:", err)
		return ExitIOError
	}

	for _, p := range pipelines {
		archived := ""
		if p.Archived() {
			archived = " (archived)"
		}
		fmt.Printf("%s\t%s\t%d stage(s)%s\n", p.ID(), p.Name(), len(p.Stages()), archived)
	}
	return ExitSuccess
}

// Show runs the `show` subcommand: print one pipeline's stages and
// configuration in detail.
func (a *App) Show(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	id := fs.String("id", "", "pipeline id")
	name := fs.String("name", "", "pipeline name (alternative to --id)")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}
	if *id == "" && *name == "" {
		fmt.Fprintln(os.Stderr, "adapipe show: --id or --name is required")
		return ExitGenericError
	}

	repo, closeFn, err := a.openRepository()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe show:", err)
		return ExitConfigError
	}
	defer closeFn()

	p, err := lookupPipeline(ctx, repo, *id, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe show:", err)
		return ExitIOError
	}

	fmt.Printf("pipeline %q (%s), archived=%v, created=%s, updated=%s\n",
		p.Name(), p.ID(), p.Archived(), p.CreatedAt().Format(time.RFC3339), p.UpdatedAt().Format(time.RFC3339))
	for _, s := range p.Stages() {
		fmt.Printf("  [%d] %s (%s) enabled=%v params=%v\n",
			s.Order(), s.Name(), s.Configuration().Algorithm, s.Enabled(), s.Configuration().Parameters)
	}
	for k, v := range p.Configuration() {
		fmt.Printf("  config: %s=%s\n", k, v)
	}
	return ExitSuccess
}

// Delete runs the `delete` subcommand: permanently remove a stored pipeline.
func (a *App) Delete(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	id := fs.String("id", "", "pipeline id")
	if err := fs.Parse(args); err != nil {
		return ExitGenericError
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "adapipe delete: --id is required")
		return ExitGenericError
	}

	pid, err := values.ParsePipelineID(*id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe delete:", err)
		return ExitGenericError
	}

	repo, closeFn, err := a.openRepository()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapipe delete:", err)
		return ExitConfigError
	}
	defer closeFn()

	if err := repo.Delete(ctx, pid); err != nil {
		fmt.Fprintln(os.Stderr, "adapipe delete:", err)
		return ExitIOError
	}

	fmt.Printf("deleted pipeline %s\n", pid)
	return ExitSuccess
}
