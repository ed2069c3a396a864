package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// PostgresRepository implements PipelineRepository against the five-table
// schema spec.md §6 names: pipelines, pipeline_stages,
// pipeline_configuration, stage_parameters, processing_metrics, with
// cascading delete from pipelines. Grounded on internal/database's
// connection-pool helper (teacher's postgres.go, generalized away from
// tenant-scoped queries).
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an already-opened pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Schema is the DDL this adapter expects; exposed so a migration tool or a
// test's setup fixture can apply it without duplicating the table
// definitions.
const Schema = `
CREATE TABLE IF NOT EXISTS pipelines (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	archived    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS pipelines_name_unarchived_idx
	ON pipelines (name) WHERE NOT archived;

CREATE TABLE IF NOT EXISTS pipeline_stages (
	id             TEXT PRIMARY KEY,
	pipeline_id    TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	stage_type     TEXT NOT NULL,
	algorithm      TEXT NOT NULL,
	parallel_ok    BOOLEAN NOT NULL,
	chunk_size     BIGINT,
	enabled        BOOLEAN NOT NULL,
	stage_order    INTEGER NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_configuration (
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	PRIMARY KEY (pipeline_id, key)
);

CREATE TABLE IF NOT EXISTS stage_parameters (
	stage_id TEXT NOT NULL REFERENCES pipeline_stages(id) ON DELETE CASCADE,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (stage_id, key)
);

CREATE TABLE IF NOT EXISTS processing_metrics (
	id            BIGSERIAL PRIMARY KEY,
	pipeline_id   TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	chunk_count   INTEGER NOT NULL,
	bytes_in      BIGINT NOT NULL,
	bytes_out     BIGINT NOT NULL,
	succeeded     BOOLEAN NOT NULL,
	error_message TEXT
);
`

// Save inserts or fully replaces p's rows across all four definitional
// tables in one transaction (spec.md §6: "Pipeline saves use a single
// transaction that inserts the aggregate atomically").
func (r *PostgresRepository) Save(ctx context.Context, p *pipeline.Pipeline) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, archived = EXCLUDED.archived, updated_at = EXCLUDED.updated_at
	`, p.ID().String(), p.Name(), p.Archived(), p.CreatedAt(), p.UpdatedAt())
	if err != nil {
		return fmt.Errorf("repository: upsert pipeline: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_stages WHERE pipeline_id = $1`, p.ID().String()); err != nil {
		return fmt.Errorf("repository: clear stages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_configuration WHERE pipeline_id = $1`, p.ID().String()); err != nil {
		return fmt.Errorf("repository: clear configuration: %w", err)
	}

	for k, v := range p.Configuration() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_configuration (pipeline_id, key, value) VALUES ($1, $2, $3)
		`, p.ID().String(), k, v); err != nil {
			return fmt.Errorf("repository: insert configuration %q: %w", k, err)
		}
	}

	for _, s := range p.Stages() {
		var chunkSize sql.NullInt64
		if s.Configuration().ChunkSize != nil {
			chunkSize = sql.NullInt64{Int64: s.Configuration().ChunkSize.Bytes(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_stages
				(id, pipeline_id, name, stage_type, algorithm, parallel_ok, chunk_size, enabled, stage_order, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, s.ID().String(), p.ID().String(), s.Name(), s.StageType().String(), s.Configuration().Algorithm.String(),
			s.Configuration().ParallelOK, chunkSize, s.Enabled(), s.Order(), s.CreatedAt(), s.UpdatedAt())
		if err != nil {
			return fmt.Errorf("repository: insert stage %q: %w", s.Name(), err)
		}

		for k, v := range s.Configuration().Parameters {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stage_parameters (stage_id, key, value) VALUES ($1,$2,$3)
			`, s.ID().String(), k, v); err != nil {
				return fmt.Errorf("repository: insert stage parameter %q: %w", k, err)
			}
		}
	}

	return tx.Commit()
}

// FindByID loads one pipeline aggregate, or ErrNotFound.
func (r *PostgresRepository) FindByID(ctx context.Context, id values.PipelineID) (*pipeline.Pipeline, error) {
	return r.find(ctx, `id = $1`, id.String())
}

// FindByName loads the (unique, among non-archived) pipeline with name.
func (r *PostgresRepository) FindByName(ctx context.Context, name string) (*pipeline.Pipeline, error) {
	return r.find(ctx, `name = $1 AND NOT archived`, name)
}

func (r *PostgresRepository) find(ctx context.Context, where string, arg any) (*pipeline.Pipeline, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, archived, created_at, updated_at FROM pipelines WHERE %s
	`, where), arg)

	var (
		id                 string
		name               string
		archived           bool
		createdAt, updated time.Time
	)
	if err := row.Scan(&id, &name, &archived, &createdAt, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: scan pipeline: %w", err)
	}

	p, err := pipeline.NewPipeline(name, createdAt)
	if err != nil {
		return nil, err
	}
	if archived {
		p.Archive(updated)
	}

	if err := r.loadConfiguration(ctx, id, p, updated); err != nil {
		return nil, err
	}
	if err := r.loadStages(ctx, id, p); err != nil {
		return nil, err
	}

	return p, nil
}

func (r *PostgresRepository) loadConfiguration(ctx context.Context, id string, p *pipeline.Pipeline, now time.Time) error {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM pipeline_configuration WHERE pipeline_id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: query configuration: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("repository: scan configuration: %w", err)
		}
		p.SetConfiguration(k, v, now)
	}
	return rows.Err()
}

func (r *PostgresRepository) loadStages(ctx context.Context, id string, p *pipeline.Pipeline) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, stage_type, algorithm, parallel_ok, chunk_size, enabled, stage_order, created_at, updated_at
		FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY stage_order
	`, id)
	if err != nil {
		return fmt.Errorf("repository: query stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stageID, name, stageType, algorithm string
			parallelOK, enabled                 bool
			chunkSize                           sql.NullInt64
			order                                int
			createdAt, updatedAt                time.Time
		)
		if err := rows.Scan(&stageID, &name, &stageType, &algorithm, &parallelOK, &chunkSize, &enabled, &order, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("repository: scan stage: %w", err)
		}

		params, err := r.loadStageParameters(ctx, stageID)
		if err != nil {
			return err
		}

		cfg := pipeline.StageConfiguration{
			Algorithm:  values.NewAlgorithm(algorithm),
			Parameters: params,
			ParallelOK: parallelOK,
		}
		if chunkSize.Valid {
			cs, err := values.NewChunkSize(chunkSize.Int64)
			if err != nil {
				return err
			}
			cfg.ChunkSize = &cs
		}

		s, err := pipeline.NewPipelineStage(name, stageTypeFromString(stageType), cfg, order, createdAt)
		if err != nil {
			return err
		}
		s = s.SetEnabled(enabled, updatedAt)
		p.AddStage(s, updatedAt)
	}
	return rows.Err()
}

func (r *PostgresRepository) loadStageParameters(ctx context.Context, stageID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM stage_parameters WHERE stage_id = $1`, stageID)
	if err != nil {
		return nil, fmt.Errorf("repository: query stage parameters: %w", err)
	}
	defer rows.Close()

	params := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("repository: scan stage parameter: %w", err)
		}
		params[k] = v
	}
	return params, rows.Err()
}

// List returns every pipeline, archived or not.
func (r *PostgresRepository) List(ctx context.Context) ([]*pipeline.Pipeline, error) {
	return r.list(ctx, `SELECT id FROM pipelines ORDER BY created_at`)
}

// ListPaginated returns a page of pipelines ordered by creation time.
func (r *PostgresRepository) ListPaginated(ctx context.Context, offset, limit int) ([]*pipeline.Pipeline, error) {
	return r.list(ctx, fmt.Sprintf(`SELECT id FROM pipelines ORDER BY created_at OFFSET %d LIMIT %d`, offset, limit))
}

func (r *PostgresRepository) list(ctx context.Context, query string) ([]*pipeline.Pipeline, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: list: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("repository: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*pipeline.Pipeline, 0, len(ids))
	for _, id := range ids {
		parsed, err := values.ParsePipelineID(id)
		if err != nil {
			return nil, err
		}
		p, err := r.FindByID(ctx, parsed)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Archive soft-deletes the pipeline, freeing its name for reuse.
func (r *PostgresRepository) Archive(ctx context.Context, id values.PipelineID) error {
	return r.setArchived(ctx, id, true)
}

// Restore un-archives the pipeline.
func (r *PostgresRepository) Restore(ctx context.Context, id values.PipelineID) error {
	return r.setArchived(ctx, id, false)
}

func (r *PostgresRepository) setArchived(ctx context.Context, id values.PipelineID, archived bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pipelines SET archived = $1, updated_at = NOW() WHERE id = $2
	`, archived, id.String())
	if err != nil {
		return fmt.Errorf("repository: set archived: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes the pipeline; cascading foreign keys remove
// its stages, configuration, parameters, and metrics rows.
func (r *PostgresRepository) Delete(ctx context.Context, id values.PipelineID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("repository: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the total number of pipelines, archived or not.
func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipelines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository: count: %w", err)
	}
	return n, nil
}

// RecordRun persists a processing_metrics row. Failure to persist run
// metadata is non-fatal to the run itself (spec.md §7 propagation rules);
// callers log and continue rather than failing a completed run over this.
func (r *PostgresRepository) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processing_metrics
			(pipeline_id, started_at, completed_at, chunk_count, bytes_in, bytes_out, succeeded, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.PipelineID.String(), rec.StartedAt, rec.CompletedAt, rec.ChunkCount, rec.BytesIn, rec.BytesOut, rec.Succeeded, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("repository: record run: %w", err)
	}
	return nil
}

func stageTypeFromString(s string) stage.Type {
	switch s {
	case "compression":
		return stage.TypeCompression
	case "encryption":
		return stage.TypeEncryption
	case "checksum":
		return stage.TypeChecksum
	case "passthrough":
		return stage.TypePassThrough
	default:
		return stage.TypeTransform
	}
}
