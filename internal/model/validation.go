package model

// Validation check names, evaluated in this order per table.
const (
	CheckExtractionStatus = "extraction_status"
	CheckRowCount         = "row_count"
	CheckNullRatio        = "null_ratio"
	CheckColumnCount      = "column_count"
)

// RevisionTarget selects which phase a failed validation loops back to.
type RevisionTarget string

const (
	RevisionNone      RevisionTarget = ""
	RevisionExtractor RevisionTarget = "extractor"
	RevisionDesigner  RevisionTarget = "schema_designer"
)

// CheckResult is one quality check outcome for one table.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// TableValidation is the full check list for one extracted table.
type TableValidation struct {
	TableName string        `json:"table_name"`
	Checks    []CheckResult `json:"checks"`
	Passed    bool          `json:"passed"`
}

// ValidationReport aggregates per-table validations into a run-level
// verdict plus a routing recommendation for the revision loop.
type ValidationReport struct {
	Tables      []TableValidation `json:"tables"`
	Passed      bool              `json:"passed"`
	Diagnosis   string            `json:"diagnosis,omitempty"`
	Recommended RevisionTarget    `json:"recommended,omitempty"`
}
