package model

import "time"

// Catalog is the machine-readable summary published at the end of a run.
// It describes every persisted table, inferred relationships, and
// accumulated data-quality notes.
type Catalog struct {
	ProjectID     string         `json:"project_id"`
	RunID         string         `json:"run_id"`
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	Tables        []CatalogTable `json:"tables"`
	Relationships []Relationship `json:"relationships,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// CatalogTable summarizes one published table.
type CatalogTable struct {
	Name         string          `json:"name"`
	SourceFile   string          `json:"source_file"`
	SourceSheet  string          `json:"source_sheet"`
	Columns      []PlannedColumn `json:"columns"`
	RowCount     int64           `json:"row_count"`
	SizeBytes    int64           `json:"size_bytes"`
	Format       OutputFormat    `json:"format"`
	StorageKey   string          `json:"storage_key"`
	QualityNotes []string        `json:"quality_notes,omitempty"`
}
