package sheets

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// writeWorkbook builds a small two-sheet workbook on disk for tests.
func writeWorkbook(t *testing.T) string {
	t.Helper()

	f := xlsx.NewFile()

	orders, err := f.AddSheet("Orders")
	require.NoError(t, err)
	header := orders.AddRow()
	for _, name := range []string{"Order ID", "Customer", "Total"} {
		header.AddCell().SetString(name)
	}
	for i := 1; i <= 30; i++ {
		row := orders.AddRow()
		row.AddCell().SetString("ORD-" + strconv.Itoa(i))
		row.AddCell().SetString("customer " + strconv.Itoa(i%7))
		row.AddCell().SetFloat(float64(i) * 9.99)
	}

	notes, err := f.AddSheet("Notes")
	require.NoError(t, err)
	title := notes.AddRow().AddCell()
	title.SetString("Quarterly Notes")
	title.HMerge = 2

	path := filepath.Join(t.TempDir(), "sample.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestInventory(t *testing.T) {
	path := writeWorkbook(t)

	inv, err := Inventory(path, "file-1", "sample.xlsx", 5)
	require.NoError(t, err)

	assert.Equal(t, "file-1", inv.FileID)
	require.Len(t, inv.Sheets, 2)

	orders := inv.Sheets[0]
	assert.Equal(t, "Orders", orders.Name)
	assert.Equal(t, 31, orders.Rows)
	assert.Equal(t, 3, orders.Cols)
	assert.Greater(t, orders.Density, 0.9)
	require.Len(t, orders.HeadSample, 5)
	assert.Equal(t, []string{"Order ID", "Customer", "Total"}, orders.HeadSample[0])
	assert.NotEmpty(t, orders.TailSample)

	notes := inv.Sheets[1]
	assert.Equal(t, "Notes", notes.Name)
	require.NotEmpty(t, notes.MergedRanges)
	assert.Equal(t, "A1:C1", notes.MergedRanges[0])
}

func TestInventory_MissingFile(t *testing.T) {
	_, err := Inventory("/nonexistent/file.xlsx", "f", "file.xlsx", 5)
	assert.Error(t, err)
}

func TestReadRows(t *testing.T) {
	path := writeWorkbook(t)

	rows, err := ReadRows(path, "Orders")
	require.NoError(t, err)
	require.Len(t, rows, 31)
	assert.Equal(t, "ORD-1", rows[1][0])

	// Every row padded to the sheet's column count.
	for _, row := range rows {
		assert.Len(t, row, 3)
	}

	_, err = ReadRows(path, "Missing")
	assert.ErrorContains(t, err, "not found")
}

func TestColName(t *testing.T) {
	assert.Equal(t, "A", colName(0))
	assert.Equal(t, "Z", colName(25))
	assert.Equal(t, "AA", colName(26))
	assert.Equal(t, "AB", colName(27))
}
