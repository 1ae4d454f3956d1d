package convert

import (
	"encoding/csv"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// writeCSV writes the shaped frame as plain CSV with a header row. Nulls
// become empty cells. This is the fallback when Parquet conversion fails.
func writeCSV(f *frame, cols []model.PlannedColumn, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrap(err, "convert: create csv file")
	}
	defer out.Close()

	w := csv.NewWriter(out)

	header := make([]string, len(cols))
	for i, col := range cols {
		header[i] = col.OutputName
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "convert: write csv header")
	}

	rec := make([]string, len(cols))
	for _, row := range f.rows {
		for i, cell := range row {
			if cell == nil {
				rec[i] = ""
			} else {
				rec[i] = *cell
			}
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "convert: write csv row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "convert: flush csv")
	}
	return eris.Wrap(out.Close(), "convert: close csv")
}
