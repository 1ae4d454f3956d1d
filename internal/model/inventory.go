package model

// FileInventory is the discovered structure of one uploaded spreadsheet.
// Produced once by the ingest phase and read-only afterward.
type FileInventory struct {
	FileID   string      `json:"file_id"`
	FileName string      `json:"file_name"`
	Sheets   []SheetInfo `json:"sheets"`
}

// SheetInfo summarizes one worksheet: extents, merged ranges, formula
// presence, data density, and small samples for LLM context.
type SheetInfo struct {
	Name         string     `json:"name"`
	Rows         int        `json:"rows"`
	Cols         int        `json:"cols"`
	MergedRanges []string   `json:"merged_ranges,omitempty"`
	HasFormulas  bool       `json:"has_formulas"`
	Density      float64    `json:"density"`
	HeadSample   [][]string `json:"head_sample,omitempty"`
	TailSample   [][]string `json:"tail_sample,omitempty"`
}

// SheetRef identifies one sheet within one file; the unit of fan-out for
// the analyze phase.
type SheetRef struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Sheet    SheetInfo
}

// SheetAnalysis is one sheet's inferred logical tables.
type SheetAnalysis struct {
	FileID    string         `json:"file_id"`
	FileName  string         `json:"file_name"`
	SheetName string         `json:"sheet_name"`
	Tables    []LogicalTable `json:"tables"`
}

// LogicalTable is a contiguous table region detected within a sheet.
type LogicalTable struct {
	SuggestedName string           `json:"suggested_name"`
	HeaderRow     int              `json:"header_row"`
	DataStartRow  int              `json:"data_start_row"`
	SkipRows      []int            `json:"skip_rows,omitempty"`
	Transpose     bool             `json:"transpose"`
	Columns       []AnalyzedColumn `json:"columns"`
}

// AnalyzedColumn is one inferred column of a logical table.
type AnalyzedColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Recognized output column types. Anything else is persisted as text.
const (
	TypeText    = "text"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeDate    = "date"
)
