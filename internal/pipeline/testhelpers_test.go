package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// workbookBytes builds a real XLSX workbook from ordered sheet data and
// returns its bytes for seeding the in-memory object store.
func workbookBytes(t *testing.T, sheetNames []string, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for _, name := range sheetNames {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range sheets[name] {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	require.NoError(t, f.Save(path))

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	return blob
}
