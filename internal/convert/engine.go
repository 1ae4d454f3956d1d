// Package convert is the conversion engine behind the extract phase: it
// reads a planned table's source sheet and writes a typed columnar artifact,
// Parquet primary with a plain CSV fallback.
package convert

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/naming"
	"github.com/sheetpipe/sheetpipe/internal/sheets"
)

// Request asks for one table conversion. DestPath is an isolated scratch
// artifact owned by the caller; the engine never shares or deletes it.
type Request struct {
	SourcePath string
	Table      model.PlannedTable
	Format     model.OutputFormat
	DestPath   string
}

// Output describes a finished conversion artifact.
type Output struct {
	Path       string
	Format     model.OutputFormat
	RowCount   int64
	Bytes      int64
	NullCounts map[string]int64
}

// Engine converts one planned table to a physical artifact. May fail
// per-table; callers decide fallback and batching.
type Engine interface {
	Convert(ctx context.Context, req Request) (Output, error)
}

// XLSXEngine implements Engine over local XLSX workbooks.
type XLSXEngine struct{}

// NewEngine returns the default conversion engine.
func NewEngine() *XLSXEngine {
	return &XLSXEngine{}
}

// Convert implements Engine.
func (e *XLSXEngine) Convert(ctx context.Context, req Request) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, eris.Wrap(err, "convert: cancelled")
	}

	frame, err := shape(req.SourcePath, req.Table)
	if err != nil {
		return Output{}, err
	}

	switch req.Format {
	case model.FormatParquet:
		err = writeParquet(frame, req.Table.Columns, req.DestPath)
	case model.FormatCSV:
		err = writeCSV(frame, req.Table.Columns, req.DestPath)
	default:
		return Output{}, eris.Errorf("convert: unsupported format %q", req.Format)
	}
	if err != nil {
		return Output{}, err
	}

	st, err := os.Stat(req.DestPath)
	if err != nil {
		return Output{}, eris.Wrap(err, "convert: stat output")
	}

	return Output{
		Path:       req.DestPath,
		Format:     req.Format,
		RowCount:   int64(len(frame.rows)),
		Bytes:      st.Size(),
		NullCounts: frame.nullCounts,
	}, nil
}

// frame is the shaped, typed-as-strings table: rows of nullable cells in
// planned column order.
type frame struct {
	rows       [][]*string
	nullCounts map[string]int64
}

// shape reads the source sheet and projects it onto the planned columns:
// transpose, skip rows, header matching, transforms, and type coercion.
// Cells that fail coercion become nulls.
func shape(sourcePath string, table model.PlannedTable) (*frame, error) {
	grid, err := sheets.ReadRows(sourcePath, table.SourceSheet)
	if err != nil {
		return nil, err
	}

	if table.Transpose {
		grid = transpose(grid)
	}

	headerRow := table.HeaderRow
	if headerRow < 0 || headerRow >= len(grid) {
		return nil, eris.Errorf("convert: header row %d out of range (%d rows)", headerRow, len(grid))
	}
	dataStart := table.DataStartRow
	if dataStart <= headerRow {
		dataStart = headerRow + 1
	}

	colIdx := matchColumns(grid[headerRow], table.Columns)

	skip := make(map[int]bool, len(table.SkipRows))
	for _, r := range table.SkipRows {
		skip[r] = true
	}

	f := &frame{nullCounts: make(map[string]int64, len(table.Columns))}
	for _, col := range table.Columns {
		f.nullCounts[col.OutputName] = 0
	}

	for r := dataStart; r < len(grid); r++ {
		if skip[r] {
			continue
		}
		row := grid[r]
		if blank(row) {
			continue
		}

		out := make([]*string, len(table.Columns))
		for c, col := range table.Columns {
			var raw string
			if idx := colIdx[c]; idx >= 0 && idx < len(row) {
				raw = row[idx]
			}
			v := coerce(applyTransform(raw, col.Transform), col.Type)
			if v == nil {
				f.nullCounts[col.OutputName]++
			}
			out[c] = v
		}
		f.rows = append(f.rows, out)
	}

	return f, nil
}

// matchColumns resolves each planned column's source index against the
// header row: exact match, then case-insensitive, then snake_case equality.
// Unresolved columns get -1 and produce all nulls.
func matchColumns(header []string, cols []model.PlannedColumn) []int {
	idx := make([]int, len(cols))
	for c, col := range cols {
		idx[c] = -1
		for i, h := range header {
			if h == col.SourceName {
				idx[c] = i
				break
			}
		}
		if idx[c] >= 0 {
			continue
		}
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(col.SourceName)) {
				idx[c] = i
				break
			}
		}
		if idx[c] >= 0 {
			continue
		}
		want := naming.Snake(col.SourceName)
		for i, h := range header {
			if naming.Snake(h) == want {
				idx[c] = i
				break
			}
		}
	}
	return idx
}

func transpose(grid [][]string) [][]string {
	if len(grid) == 0 {
		return grid
	}
	cols := 0
	for _, row := range grid {
		if len(row) > cols {
			cols = len(row)
		}
	}
	out := make([][]string, cols)
	for c := range out {
		out[c] = make([]string, len(grid))
		for r := range grid {
			if c < len(grid[r]) {
				out[c][r] = grid[r][c]
			}
		}
	}
	return out
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// applyTransform applies a plan-provided column transform expression.
// Unknown expressions are ignored rather than failing the table.
func applyTransform(v, transform string) string {
	switch strings.ToLower(strings.TrimSpace(transform)) {
	case "":
		return v
	case "trim":
		return strings.TrimSpace(v)
	case "upper":
		return strings.ToUpper(v)
	case "lower":
		return strings.ToLower(v)
	case "strip_currency":
		return strings.Map(func(r rune) rune {
			if r == '$' || r == ',' || r == ' ' {
				return -1
			}
			return r
		}, v)
	default:
		return v
	}
}

// dateLayouts are tried in order when coercing date cells.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// coerce validates a raw cell against the target type and returns its
// normalized form, or nil when the cell is empty or unparseable.
func coerce(raw, typ string) *string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}

	switch typ {
	case model.TypeInteger:
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &v
		}
		// Spreadsheets often render integers as floats ("42.0").
		if f, err := strconv.ParseFloat(v, 64); err == nil && f == float64(int64(f)) {
			s := strconv.FormatInt(int64(f), 10)
			return &s
		}
		return nil
	case model.TypeFloat:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return &v
		}
		return nil
	case model.TypeBoolean:
		switch strings.ToLower(v) {
		case "true", "yes", "y", "1":
			s := "true"
			return &s
		case "false", "no", "n", "0":
			s := "false"
			return &s
		}
		return nil
	case model.TypeDate:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				s := ts.Format("2006-01-02")
				return &s
			}
		}
		return nil
	default:
		return &v
	}
}
