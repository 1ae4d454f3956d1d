package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "proj-1", "queued", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "proj-1", model.RunConfig{ReviewMode: model.ReviewModeAuto, Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, "proj-1", run.ProjectID)
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cfgJSON, _ := json.Marshal(model.RunConfig{Concurrency: 5})
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE runs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status IN \(\$4, \$5\)`).
		WithArgs("running", pgxmock.AnyArg(), "run-1", "queued", "review").
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "phase", "status", "config", "usage", "revisions", "error", "created_at", "updated_at"}).
			AddRow("run-1", "proj-1", "", "running", cfgJSON, []byte(`{}`), 0, nil, now, now))

	run, err := s.ClaimRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, 5, run.Config.Concurrency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimRun_NotClaimable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE runs SET status`).
		WithArgs("running", pgxmock.AnyArg(), "run-done", "queued", "review").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ClaimRun(context.Background(), "run-done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not claimable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, project_id, phase, status, config, usage, revisions, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunProgress(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET phase = \$1, revisions = \$2, usage = \$3`).
		WithArgs("validate", 2, pgxmock.AnyArg(), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateRunProgress(context.Background(), "run-1", "validate", 2, model.TokenUsage{TotalTokens: 5000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "ingest: download failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed, "ingest: download failed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PlanRoundTrip(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	plan := &model.ExtractionPlan{
		Tables: []model.PlannedTable{{Name: "orders", SourceSheet: "Orders"}},
	}
	planJSON, err := json.Marshal(plan)
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE runs SET plan = \$1`).
		WithArgs(planJSON, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SavePlan(context.Background(), "run-1", plan))

	mock.ExpectQuery(`SELECT plan FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"plan"}).AddRow(planJSON))

	got, err := s.GetPlan(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "orders", got.Tables[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPlan_Nil(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT plan FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"plan"}).AddRow(nil))

	got, err := s.GetPlan(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceProjectTables(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM extracted_tables WHERE project_id = \$1`).
		WithArgs("proj-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{"extracted_tables"},
		[]string{"id", "project_id", "run_id", "name", "source_file_id", "columns", "row_count", "size_bytes", "format", "storage_key", "caveats", "created_at"}).
		WillReturnResult(1)
	mock.ExpectCommit()

	tables := []model.TableRecord{
		{
			ProjectID:    "proj-1",
			RunID:        "run-2",
			Name:         "revenue",
			SourceFileID: "file-1",
			Columns:      []model.PlannedColumn{{SourceName: "Amt", OutputName: "amt", Type: model.TypeFloat}},
			RowCount:     110,
			Format:       model.FormatParquet,
			StorageKey:   "tables/run-2/revenue.parquet",
		},
	}
	err := s.ReplaceProjectTables(context.Background(), "proj-1", tables)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceProjectTables_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM extracted_tables WHERE project_id = \$1`).
		WithArgs("proj-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	err := s.ReplaceProjectTables(context.Background(), "proj-1", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateProjectAggregates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE projects SET status = \$1, table_count = \$2`).
		WithArgs("ready", 2, int64(160), int64(4096), pgxmock.AnyArg(), "proj-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateProjectAggregates(context.Background(), "proj-1", model.ProjectStatusReady, 2, 160, 4096)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
