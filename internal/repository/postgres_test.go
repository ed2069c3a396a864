package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// These tests drive PostgresRepository against github.com/DATA-DOG/go-sqlmock
// rather than a live database: every query/exec the adapter issues is
// asserted and stubbed, the standard way to unit-test a database/sql
// adapter without a running Postgres instance.

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestSaveInsertsAggregateInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Unix(0, 0).UTC()
	p, err := pipeline.NewPipeline("nightly-backup", now)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p.SetConfiguration("retention_days", "30", now)
	stageCfg := pipeline.StageConfiguration{Algorithm: values.NewAlgorithm("zstd"), Parameters: map[string]string{"level": "6"}}
	stg, err := pipeline.NewPipelineStage("compress", 0, stageCfg, 0, now)
	if err != nil {
		t.Fatalf("NewPipelineStage: %v", err)
	}
	p.AddStage(stg, now)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pipelines`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM pipeline_stages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM pipeline_configuration`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO pipeline_configuration`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO pipeline_stages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO stage_parameters`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Save(context.Background(), p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Unix(0, 0).UTC()
	p, err := pipeline.NewPipeline("broken", now)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pipelines`).WillReturnError(sqlErrConnDone)
	mock.ExpectRollback()

	if err := repo.Save(context.Background(), p); err == nil {
		t.Fatal("expected Save to return the underlying exec error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFindByIDReturnsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := values.NewPipelineID()
	mock.ExpectQuery(`SELECT id, name, archived, created_at, updated_at FROM pipelines`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "archived", "created_at", "updated_at"}))

	if _, err := repo.FindByID(context.Background(), id); err != ErrNotFound {
		t.Errorf("FindByID: got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestArchiveReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := values.NewPipelineID()
	mock.ExpectExec(`UPDATE pipelines SET archived`).
		WithArgs(true, id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Archive(context.Background(), id); err != ErrNotFound {
		t.Errorf("Archive: got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCount(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pipelines`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// sqlErrConnDone stands in for any driver-level failure a real Postgres
// connection could return mid-transaction.
var sqlErrConnDone = errConnDone{}

type errConnDone struct{}

func (errConnDone) Error() string { return "sql: connection is already closed" }
