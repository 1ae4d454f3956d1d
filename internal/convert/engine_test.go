package convert

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// writeSource builds a workbook with a title row above the header and a
// few messy cells, the shape the engine has to cope with in practice.
func writeSource(t *testing.T) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Data")
	require.NoError(t, err)

	title := sheet.AddRow()
	title.AddCell().SetString("Sales Export 2026")

	header := sheet.AddRow()
	for _, h := range []string{"Order ID", "Qty", "Price", "Shipped"} {
		header.AddCell().SetString(h)
	}

	rows := [][]string{
		{"ORD-1", "3", "19.99", "yes"},
		{"ORD-2", "", "5.00", "no"},
		{"subtotal", "x", "24.99", ""}, // skip row
		{"ORD-3", "7.0", "bad", "true"},
		{"", "", "", ""}, // blank, dropped
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}

	path := filepath.Join(t.TempDir(), "source.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func plannedTable() model.PlannedTable {
	return model.PlannedTable{
		Name:         "orders",
		SourceSheet:  "Data",
		HeaderRow:    1,
		DataStartRow: 2,
		SkipRows:     []int{4},
		Columns: []model.PlannedColumn{
			{SourceName: "Order ID", OutputName: "order_id", Type: model.TypeText, Nullable: false},
			{SourceName: "Qty", OutputName: "qty", Type: model.TypeInteger, Nullable: true},
			{SourceName: "Price", OutputName: "price", Type: model.TypeFloat, Nullable: false},
			{SourceName: "Shipped", OutputName: "shipped", Type: model.TypeBoolean, Nullable: true},
		},
	}
}

func TestConvert_CSV(t *testing.T) {
	src := writeSource(t)
	dest := filepath.Join(t.TempDir(), "out.csv")

	out, err := NewEngine().Convert(context.Background(), Request{
		SourcePath: src,
		Table:      plannedTable(),
		Format:     model.FormatCSV,
		DestPath:   dest,
	})
	require.NoError(t, err)

	assert.Equal(t, model.FormatCSV, out.Format)
	assert.Equal(t, int64(3), out.RowCount)
	assert.Greater(t, out.Bytes, int64(0))

	// Qty: one empty cell; one "7.0" coerced to 7. Price: one "bad" cell.
	assert.Equal(t, int64(1), out.NullCounts["qty"])
	assert.Equal(t, int64(1), out.NullCounts["price"])
	assert.Equal(t, int64(0), out.NullCounts["order_id"])

	file, err := os.Open(dest)
	require.NoError(t, err)
	defer file.Close()

	recs, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4) // header + 3 data rows
	assert.Equal(t, []string{"order_id", "qty", "price", "shipped"}, recs[0])
	assert.Equal(t, []string{"ORD-1", "3", "19.99", "true"}, recs[1])
	assert.Equal(t, []string{"ORD-3", "7", "", "true"}, recs[3])
}

func TestConvert_Parquet(t *testing.T) {
	src := writeSource(t)
	dest := filepath.Join(t.TempDir(), "out.parquet")

	out, err := NewEngine().Convert(context.Background(), Request{
		SourcePath: src,
		Table:      plannedTable(),
		Format:     model.FormatParquet,
		DestPath:   dest,
	})
	require.NoError(t, err)

	assert.Equal(t, model.FormatParquet, out.Format)
	assert.Equal(t, int64(3), out.RowCount)

	st, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, st.Size(), out.Bytes)
}

func TestConvert_MissingSheetFails(t *testing.T) {
	src := writeSource(t)
	table := plannedTable()
	table.SourceSheet = "Nope"

	_, err := NewEngine().Convert(context.Background(), Request{
		SourcePath: src,
		Table:      table,
		Format:     model.FormatCSV,
		DestPath:   filepath.Join(t.TempDir(), "out.csv"),
	})
	assert.Error(t, err)
}

func TestShape_Transpose(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Wide")
	require.NoError(t, err)

	r1 := sheet.AddRow()
	for _, v := range []string{"Metric", "jan", "feb"} {
		r1.AddCell().SetString(v)
	}
	r2 := sheet.AddRow()
	for _, v := range []string{"Revenue", "100", "120"} {
		r2.AddCell().SetString(v)
	}

	path := filepath.Join(t.TempDir(), "wide.xlsx")
	require.NoError(t, f.Save(path))

	frame, err := shape(path, model.PlannedTable{
		SourceSheet:  "Wide",
		Transpose:    true,
		HeaderRow:    0,
		DataStartRow: 1,
		Columns: []model.PlannedColumn{
			{SourceName: "Metric", OutputName: "metric", Type: model.TypeText},
			{SourceName: "Revenue", OutputName: "revenue", Type: model.TypeInteger},
		},
	})
	require.NoError(t, err)
	require.Len(t, frame.rows, 2)
	assert.Equal(t, "jan", *frame.rows[0][0])
	assert.Equal(t, "100", *frame.rows[0][1])
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		raw, typ string
		want     string
		null     bool
	}{
		{"42", model.TypeInteger, "42", false},
		{"42.0", model.TypeInteger, "42", false},
		{"4.5", model.TypeInteger, "", true},
		{"4.5", model.TypeFloat, "4.5", false},
		{"yes", model.TypeBoolean, "true", false},
		{"0", model.TypeBoolean, "false", false},
		{"maybe", model.TypeBoolean, "", true},
		{"03/15/2026", model.TypeDate, "2026-03-15", false},
		{"2026-03-15", model.TypeDate, "2026-03-15", false},
		{"not a date", model.TypeDate, "", true},
		{" hello ", model.TypeText, "hello", false},
		{"", model.TypeText, "", true},
	}

	for _, tc := range cases {
		got := coerce(tc.raw, tc.typ)
		if tc.null {
			assert.Nil(t, got, "%s as %s", tc.raw, tc.typ)
		} else {
			require.NotNil(t, got, "%s as %s", tc.raw, tc.typ)
			assert.Equal(t, tc.want, *got)
		}
	}
}

func TestApplyTransform(t *testing.T) {
	assert.Equal(t, "abc", applyTransform(" abc ", "trim"))
	assert.Equal(t, "ABC", applyTransform("abc", "upper"))
	assert.Equal(t, "abc", applyTransform("ABC", "lower"))
	assert.Equal(t, "1234.56", applyTransform("$1,234.56", "strip_currency"))
	assert.Equal(t, "x", applyTransform("x", "unknown_expr"))
	assert.Equal(t, "x", applyTransform("x", ""))
}
