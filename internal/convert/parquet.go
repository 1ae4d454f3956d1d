package convert

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// parquetType maps an output column type to a parquet CSV-writer schema tag.
// Dates are stored as ISO-8601 strings for portability.
func parquetType(typ string) string {
	switch typ {
	case model.TypeInteger:
		return "type=INT64"
	case model.TypeFloat:
		return "type=DOUBLE"
	case model.TypeBoolean:
		return "type=BOOLEAN"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// writeParquet writes the shaped frame as a Parquet file with one optional
// column per planned column.
func writeParquet(f *frame, cols []model.PlannedColumn, destPath string) error {
	md := make([]string, len(cols))
	for i, col := range cols {
		md[i] = fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", col.OutputName, parquetType(col.Type))
	}

	fw, err := local.NewLocalFileWriter(destPath)
	if err != nil {
		return eris.Wrap(err, "convert: create parquet file")
	}
	defer fw.Close()

	pw, err := writer.NewCSVWriter(md, fw, 2)
	if err != nil {
		return eris.Wrap(err, "convert: create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range f.rows {
		if err := pw.WriteString(row); err != nil {
			return eris.Wrap(err, "convert: write parquet row")
		}
	}

	if err := pw.WriteStop(); err != nil {
		return eris.Wrap(err, "convert: finalize parquet")
	}
	return nil
}
