package model

import "time"

// RunStatus represents the lifecycle state of an extraction run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusReview    RunStatus = "review"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// ReviewMode selects whether a human approves the plan before extraction.
type ReviewMode string

const (
	ReviewModeAuto   ReviewMode = "auto"
	ReviewModeReview ReviewMode = "review"
)

// MaxRevisions bounds the validation-driven revision loop. One initial
// extraction plus at most three revisions per run.
const MaxRevisions = 3

// RunConfig holds per-run execution settings.
type RunConfig struct {
	ReviewMode  ReviewMode `json:"review_mode"`
	Concurrency int        `json:"concurrency"`
}

// TokenUsage tracks cumulative LLM token consumption for a run. Counters
// are additive across phases and revision cycles.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Run represents a single execution of the extraction pipeline for a project.
type Run struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Phase     string     `json:"phase"`
	Status    RunStatus  `json:"status"`
	Config    RunConfig  `json:"config"`
	Usage     TokenUsage `json:"usage"`
	Revisions int        `json:"revisions"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ProjectStatus is derived from the outcome of the most recent run.
type ProjectStatus string

const (
	ProjectStatusPending ProjectStatus = "pending"
	ProjectStatusReady   ProjectStatus = "ready"
	ProjectStatusPartial ProjectStatus = "partial"
	ProjectStatusFailed  ProjectStatus = "failed"
)

// Project groups uploaded files and their extracted tables.
type Project struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     ProjectStatus `json:"status"`
	TableCount int           `json:"table_count"`
	TotalRows  int64         `json:"total_rows"`
	TotalBytes int64         `json:"total_bytes"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ProjectFile is an uploaded spreadsheet belonging to a project.
type ProjectFile struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	StorageKey string    `json:"storage_key"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableRecord is one durably persisted output table from a run.
type TableRecord struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	RunID        string          `json:"run_id"`
	Name         string          `json:"name"`
	SourceFileID string          `json:"source_file_id"`
	Columns      []PlannedColumn `json:"columns"`
	RowCount     int64           `json:"row_count"`
	SizeBytes    int64           `json:"size_bytes"`
	Format       OutputFormat    `json:"format"`
	StorageKey   string          `json:"storage_key"`
	Caveats      []string        `json:"caveats,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
