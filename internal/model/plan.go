package model

// ExtractionPlan is the designed target schema mapping source sheets to
// output tables. Produced by the design phase, optionally amended by
// reviewer modifications, and immutable during extract/validate.
type ExtractionPlan struct {
	Tables        []PlannedTable `json:"tables"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Catalog       CatalogMeta    `json:"catalog"`
}

// PlannedTable maps one source sheet region to one output table.
type PlannedTable struct {
	Name           string          `json:"name"`
	SourceFileID   string          `json:"source_file_id"`
	SourceFileName string          `json:"source_file_name"`
	SourceSheet    string          `json:"source_sheet"`
	Columns        []PlannedColumn `json:"columns"`
	SkipRows       []int           `json:"skip_rows,omitempty"`
	HeaderRow      int             `json:"header_row"`
	DataStartRow   int             `json:"data_start_row"`
	Transpose      bool            `json:"transpose,omitempty"`
	EstimatedRows  int64           `json:"estimated_rows"`
	OutputKey      string          `json:"output_key"`
}

// PlannedColumn maps one source column to a typed output column.
type PlannedColumn struct {
	SourceName string `json:"source_name"`
	OutputName string `json:"output_name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	Transform  string `json:"transform,omitempty"`
}

// Relationship is an inferred foreign-key-like link between planned tables.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// CatalogMeta carries plan-level descriptive metadata for the published catalog.
type CatalogMeta struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModAction is a reviewer instruction kind.
type ModAction string

const (
	ModActionSkip    ModAction = "skip"
	ModActionInclude ModAction = "include"
)

// PlanModification is one reviewer-issued instruction keyed by table name.
// At most one modification per table; unmatched column overrides are
// ignored, not errors.
type PlanModification struct {
	TableName string           `json:"table_name"`
	Action    ModAction        `json:"action"`
	Rename    string           `json:"rename,omitempty"`
	Columns   []ColumnOverride `json:"columns,omitempty"`
}

// ColumnOverride retypes or renames a single planned column, matched by
// source column name.
type ColumnOverride struct {
	SourceName string `json:"source_name"`
	Rename     string `json:"rename,omitempty"`
	Retype     string `json:"retype,omitempty"`
}
