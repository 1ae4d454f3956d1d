package pipeline

import (
	"fmt"
	"strings"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// Row-count plausibility bounds relative to the plan's estimate.
const (
	rowCountLowerRatio = 0.1
	rowCountUpperRatio = 2.0
)

// nullRatioLimit is the maximum tolerated observed null ratio for a
// column the plan declares non-nullable.
const nullRatioLimit = 0.8

// EvaluateTable runs the quality checks for one extracted table against
// its plan entry. Checks run in a fixed order and all of them always run;
// the table passes only when every check passes.
func EvaluateTable(res model.ExtractionResult, planned *model.PlannedTable) model.TableValidation {
	v := model.TableValidation{TableName: res.TableName, Passed: true}

	add := func(name string, passed bool, msg string) {
		if passed {
			msg = ""
		}
		v.Checks = append(v.Checks, model.CheckResult{Name: name, Passed: passed, Message: msg})
		if !passed {
			v.Passed = false
		}
	}

	// Check 1: extraction status.
	add(model.CheckExtractionStatus, res.Status == model.ExtractSuccess,
		fmt.Sprintf("table %s: extraction failed: %s", res.TableName, res.Error))

	// Check 2: row count. Zero rows always fails; with a positive
	// estimate, the actual count must land within plausibility bounds.
	rowsOK := res.RowCount > 0
	rowsMsg := fmt.Sprintf("table %s: extracted 0 rows", res.TableName)
	if rowsOK && planned != nil && planned.EstimatedRows > 0 {
		ratio := float64(res.RowCount) / float64(planned.EstimatedRows)
		if ratio < rowCountLowerRatio || ratio > rowCountUpperRatio {
			rowsOK = false
			rowsMsg = fmt.Sprintf("table %s: extracted %d rows, estimated %d (ratio %.2f outside [%.1f, %.1f])",
				res.TableName, res.RowCount, planned.EstimatedRows, ratio, rowCountLowerRatio, rowCountUpperRatio)
		}
	}
	add(model.CheckRowCount, rowsOK, rowsMsg)

	// Check 3: null ratio on non-nullable columns.
	nullOK := true
	var nullMsg string
	if planned != nil && res.RowCount > 0 {
		for _, col := range planned.Columns {
			if col.Nullable {
				continue
			}
			nulls := res.NullCounts[col.OutputName]
			if ratio := float64(nulls) / float64(res.RowCount); ratio > nullRatioLimit {
				nullOK = false
				nullMsg = fmt.Sprintf("table %s: non-nullable column %s is %.0f%% null",
					res.TableName, col.OutputName, ratio*100)
				break
			}
		}
	}
	add(model.CheckNullRatio, nullOK, nullMsg)

	// Check 4: column count, meaningful only for successful extractions.
	colsOK := true
	var colsMsg string
	if res.Status == model.ExtractSuccess && planned != nil {
		if got, want := len(res.NullCounts), len(planned.Columns); got != want {
			colsOK = false
			colsMsg = fmt.Sprintf("table %s: output has %d columns, plan has %d", res.TableName, got, want)
		}
	}
	add(model.CheckColumnCount, colsOK, colsMsg)

	return v
}

// Validate evaluates every extraction result against its plan entry and
// aggregates per-table verdicts into a run-level report. The routing
// classification is computed even when only some tables fail: structural
// failures (column count, null ratio) outrank extraction failures and send
// the run back to the schema designer.
func Validate(results []model.ExtractionResult, plan *model.ExtractionPlan) *model.ValidationReport {
	byName := map[string]*model.PlannedTable{}
	if plan != nil {
		for i := range plan.Tables {
			byName[plan.Tables[i].Name] = &plan.Tables[i]
		}
	}

	report := &model.ValidationReport{Passed: true}
	var failing []string
	structural, extraction := false, false

	for _, res := range results {
		tv := EvaluateTable(res, byName[res.TableName])
		report.Tables = append(report.Tables, tv)
		if tv.Passed {
			continue
		}
		report.Passed = false
		for _, c := range tv.Checks {
			if c.Passed {
				continue
			}
			failing = append(failing, c.Message)
			switch c.Name {
			case model.CheckColumnCount, model.CheckNullRatio:
				structural = true
			case model.CheckRowCount, model.CheckExtractionStatus:
				extraction = true
			}
		}
	}

	if !report.Passed {
		report.Diagnosis = strings.Join(failing, "; ")
		switch {
		case structural:
			report.Recommended = model.RevisionDesigner
		case extraction:
			report.Recommended = model.RevisionExtractor
		}
	}
	return report
}
