// Package sheets reads uploaded XLSX workbooks: structural inventory for
// the ingest phase and raw row access for the conversion engine.
package sheets

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// Inventory opens the workbook at path and summarizes every sheet:
// extents, merged-cell ranges, formula presence, data density, and small
// head/tail samples for LLM context.
func Inventory(path, fileID, fileName string, sampleRows int) (model.FileInventory, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return model.FileInventory{}, eris.Wrapf(err, "sheets: open %s", fileName)
	}

	if sampleRows <= 0 {
		sampleRows = 10
	}

	inv := model.FileInventory{FileID: fileID, FileName: fileName}
	for _, sheet := range f.Sheets {
		inv.Sheets = append(inv.Sheets, summarize(sheet, sampleRows))
	}
	return inv, nil
}

// ReadRows returns every row of the named sheet as strings. Short rows are
// padded to the sheet's column count so downstream indexing is uniform.
func ReadRows(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: open %s", path)
	}

	sheet, ok := f.Sheet[sheetName]
	if !ok {
		return nil, eris.Errorf("sheets: sheet %q not found", sheetName)
	}

	cols := maxCols(sheet)
	rows := make([][]string, len(sheet.Rows))
	for i, row := range sheet.Rows {
		cells := make([]string, cols)
		for j, cell := range row.Cells {
			if j >= cols {
				break
			}
			cells[j] = cell.String()
		}
		rows[i] = cells
	}
	return rows, nil
}

func summarize(sheet *xlsx.Sheet, sampleRows int) model.SheetInfo {
	info := model.SheetInfo{Name: sheet.Name}

	cols := maxCols(sheet)
	info.Rows = len(sheet.Rows)
	info.Cols = cols

	var filled, total int
	for i, row := range sheet.Rows {
		for j, cell := range row.Cells {
			total++
			if cell.Value != "" {
				filled++
			}
			if h, v := cell.HMerge, cell.VMerge; h > 0 || v > 0 {
				info.MergedRanges = append(info.MergedRanges, rangeRef(i, j, i+v, j+h))
			}
			if cell.Formula() != "" {
				info.HasFormulas = true
			}
		}
	}
	if total > 0 {
		info.Density = float64(filled) / float64(total)
	}

	info.HeadSample = sample(sheet, 0, sampleRows, cols)
	if tailStart := len(sheet.Rows) - sampleRows; tailStart > sampleRows {
		info.TailSample = sample(sheet, tailStart, sampleRows, cols)
	}

	return info
}

func sample(sheet *xlsx.Sheet, start, count, cols int) [][]string {
	end := start + count
	if end > len(sheet.Rows) {
		end = len(sheet.Rows)
	}
	if start >= end {
		return nil
	}

	out := make([][]string, 0, end-start)
	for _, row := range sheet.Rows[start:end] {
		cells := make([]string, 0, cols)
		for _, cell := range row.Cells {
			cells = append(cells, cell.String())
		}
		out = append(out, cells)
	}
	return out
}

func maxCols(sheet *xlsx.Sheet) int {
	cols := 0
	for _, row := range sheet.Rows {
		if len(row.Cells) > cols {
			cols = len(row.Cells)
		}
	}
	return cols
}

// rangeRef formats a zero-based cell rectangle as an A1-style range.
func rangeRef(r1, c1, r2, c2 int) string {
	return fmt.Sprintf("%s%d:%s%d", colName(c1), r1+1, colName(c2), r2+1)
}

func colName(c int) string {
	name := ""
	for c >= 0 {
		name = string(rune('A'+c%26)) + name
		c = c/26 - 1
	}
	return name
}
