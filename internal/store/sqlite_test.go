package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *SQLiteStore) *model.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), "acme-financials")
	require.NoError(t, err)
	return p
}

func TestSQLiteRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p := seedProject(t, s)

	run, err := s.CreateRun(ctx, p.ID, model.RunConfig{ReviewMode: model.ReviewModeAuto, Concurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NotEmpty(t, run.ID)

	claimed, err := s.ClaimRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, claimed.Status)
	assert.Equal(t, 4, claimed.Config.Concurrency)

	// A second claim of a running run must fail.
	_, err = s.ClaimRun(ctx, run.ID)
	assert.Error(t, err)

	err = s.UpdateRunProgress(ctx, run.ID, "extract", 1, model.TokenUsage{PromptTokens: 900, CompletionTokens: 100, TotalTokens: 1000})
	require.NoError(t, err)

	err = s.UpdateRunStatus(ctx, run.ID, model.RunStatusCompleted, "")
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, "extract", got.Phase)
	assert.Equal(t, 1, got.Revisions)
	assert.Equal(t, int64(1000), got.Usage.TotalTokens)
	assert.Empty(t, got.Error)
}

func TestSQLiteClaimRunFromReview(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p := seedProject(t, s)

	run, err := s.CreateRun(ctx, p.ID, model.RunConfig{ReviewMode: model.ReviewModeReview})
	require.NoError(t, err)

	_, err = s.ClaimRun(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusReview, ""))

	claimed, err := s.ClaimRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, claimed.Status)
}

func TestSQLiteClaimRunTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p := seedProject(t, s)

	run, err := s.CreateRun(ctx, p.ID, model.RunConfig{})
	require.NoError(t, err)
	_, err = s.ClaimRun(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, "analyze: upstream error"))

	_, err = s.ClaimRun(ctx, run.ID)
	assert.Error(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "analyze: upstream error", got.Error)
}

func TestSQLiteListRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p1 := seedProject(t, s)
	p2, err := s.CreateProject(ctx, "other")
	require.NoError(t, err)

	r1, err := s.CreateRun(ctx, p1.ID, model.RunConfig{})
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, p1.ID, model.RunConfig{})
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, p2.ID, model.RunConfig{})
	require.NoError(t, err)

	_, err = s.ClaimRun(ctx, r1.ID)
	require.NoError(t, err)

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byProject, err := s.ListRuns(ctx, RunFilter{ProjectID: p1.ID})
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	running, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, r1.ID, running[0].ID)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLitePlanRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p := seedProject(t, s)

	run, err := s.CreateRun(ctx, p.ID, model.RunConfig{})
	require.NoError(t, err)

	got, err := s.GetPlan(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	plan := &model.ExtractionPlan{
		Tables: []model.PlannedTable{
			{
				Name:        "revenue",
				SourceSheet: "Sheet1",
				HeaderRow:   0,
				DataStartRow: 1,
				Columns: []model.PlannedColumn{
					{SourceName: "Amount", OutputName: "amount", Type: model.TypeFloat, Nullable: true},
				},
				EstimatedRows: 120,
				OutputKey:     "tables/run-1/revenue.parquet",
			},
		},
		Catalog: model.CatalogMeta{Title: "Budget"},
	}
	require.NoError(t, s.SavePlan(ctx, run.ID, plan))

	got, err = s.GetPlan(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Tables, 1)
	assert.Equal(t, "revenue", got.Tables[0].Name)
	assert.Equal(t, "amount", got.Tables[0].Columns[0].OutputName)

	mods := []model.PlanModification{
		{TableName: "revenue", Action: model.ModActionSkip},
	}
	require.NoError(t, s.SaveModifications(ctx, run.ID, mods))

	gotMods, err := s.GetModifications(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, gotMods, 1)
	assert.Equal(t, model.ModActionSkip, gotMods[0].Action)
}

func TestSQLiteProjectFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p := seedProject(t, s)

	require.NoError(t, s.AddProjectFile(ctx, model.ProjectFile{
		ProjectID:  p.ID,
		Name:       "budget.xlsx",
		StorageKey: "uploads/budget.xlsx",
		SizeBytes:  4096,
	}))
	require.NoError(t, s.AddProjectFile(ctx, model.ProjectFile{
		ProjectID:  p.ID,
		Name:       "forecast.xlsx",
		StorageKey: "uploads/forecast.xlsx",
		SizeBytes:  8192,
	}))

	files, err := s.ListProjectFiles(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.NotEmpty(t, files[0].ID)
	assert.Equal(t, "budget.xlsx", files[0].Name)
}

func TestSQLiteReplaceProjectTablesIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p := seedProject(t, s)

	run1, err := s.CreateRun(ctx, p.ID, model.RunConfig{})
	require.NoError(t, err)
	run2, err := s.CreateRun(ctx, p.ID, model.RunConfig{})
	require.NoError(t, err)

	file := model.ProjectFile{ID: "file-1", ProjectID: p.ID, Name: "budget.xlsx", StorageKey: "uploads/budget.xlsx"}
	require.NoError(t, s.AddProjectFile(ctx, file))

	mkTable := func(runID, name string, rows int64) model.TableRecord {
		return model.TableRecord{
			ProjectID:    p.ID,
			RunID:        runID,
			Name:         name,
			SourceFileID: file.ID,
			Columns:      []model.PlannedColumn{{SourceName: "A", OutputName: "a", Type: model.TypeText}},
			RowCount:     rows,
			Format:       model.FormatParquet,
			StorageKey:   "tables/" + runID + "/" + name + ".parquet",
		}
	}

	require.NoError(t, s.ReplaceProjectTables(ctx, p.ID, []model.TableRecord{
		mkTable(run1.ID, "revenue", 100),
		mkTable(run1.ID, "expenses", 50),
	}))

	// A later run replaces the catalog wholesale; nothing from the first
	// run survives.
	require.NoError(t, s.ReplaceProjectTables(ctx, p.ID, []model.TableRecord{
		mkTable(run2.ID, "revenue", 110),
	}))

	tables, err := s.ListTables(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, run2.ID, tables[0].RunID)
	assert.Equal(t, int64(110), tables[0].RowCount)
	assert.Equal(t, model.FormatParquet, tables[0].Format)
	assert.Equal(t, "a", tables[0].Columns[0].OutputName)
}

func TestSQLiteUpdateProjectAggregates(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	p := seedProject(t, s)

	require.NoError(t, s.UpdateProjectAggregates(ctx, p.ID, model.ProjectStatusPartial, 3, 450, 1<<20))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusPartial, got.Status)
	assert.Equal(t, 3, got.TableCount)
	assert.Equal(t, int64(450), got.TotalRows)
	assert.Equal(t, int64(1<<20), got.TotalBytes)

	err = s.UpdateProjectAggregates(ctx, "missing", model.ProjectStatusReady, 0, 0, 0)
	assert.Error(t, err)
}
