// Package store persists runs, projects, files, and extracted table
// records. Two backends are provided: Postgres (pgx) for deployments and
// SQLite for local, single-binary use.
package store

import (
	"context"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	ProjectID string          `json:"project_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the metadata persistence interface for the pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, projectID string, cfg model.RunConfig) (*model.Run, error)
	// ClaimRun atomically moves a queued or paused-for-review run to
	// running so exactly one executor proceeds. Returns an error if the
	// run is already claimed or terminal.
	ClaimRun(ctx context.Context, runID string) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	// UpdateRunProgress persists phase, revision count, and cumulative
	// token usage after each phase transition.
	UpdateRunProgress(ctx context.Context, runID, phase string, revisions int, usage model.TokenUsage) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error

	// Review artifacts
	SavePlan(ctx context.Context, runID string, plan *model.ExtractionPlan) error
	GetPlan(ctx context.Context, runID string) (*model.ExtractionPlan, error)
	SaveModifications(ctx context.Context, runID string, mods []model.PlanModification) error
	GetModifications(ctx context.Context, runID string) ([]model.PlanModification, error)

	// Projects & files
	CreateProject(ctx context.Context, name string) (*model.Project, error)
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	AddProjectFile(ctx context.Context, file model.ProjectFile) error
	ListProjectFiles(ctx context.Context, projectID string) ([]model.ProjectFile, error)
	// UpdateProjectAggregates atomically persists the derived project
	// status and table/row/byte totals after persistence.
	UpdateProjectAggregates(ctx context.Context, projectID string, status model.ProjectStatus, tableCount int, totalRows, totalBytes int64) error

	// Tables
	ListTables(ctx context.Context, projectID string) ([]model.TableRecord, error)
	// ReplaceProjectTables deletes every prior table record for the
	// project and inserts the new set in one transaction, so a reader
	// never observes a half-replaced catalog.
	ReplaceProjectTables(ctx context.Context, projectID string, tables []model.TableRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
