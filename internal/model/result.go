package model

// OutputFormat is the physical format of an extracted table artifact.
type OutputFormat string

const (
	FormatParquet OutputFormat = "parquet"
	FormatCSV     OutputFormat = "csv"
)

// ExtractStatus is the per-table outcome of the extract phase.
type ExtractStatus string

const (
	ExtractSuccess ExtractStatus = "success"
	ExtractFailed  ExtractStatus = "failed"
)

// ExtractionResult is one table's extraction outcome.
type ExtractionResult struct {
	TableName   string           `json:"table_name"`
	RowCount    int64            `json:"row_count"`
	OutputBytes int64            `json:"output_bytes"`
	Format      OutputFormat     `json:"format"`
	NullCounts  map[string]int64 `json:"null_counts,omitempty"`
	Status      ExtractStatus    `json:"status"`
	Error       string           `json:"error,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
	OutputKey   string           `json:"output_key"`
}
