package codec

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/tessera/tessera/pkg/types"
)

// EncodeRow renders a row's cells as bulk delimited-text fields in column
// order. Columns absent from the row render as empty fields.
func EncodeRow(row types.Row, cols []*types.Column) ([]string, error) {
	fields := make([]string, len(cols))
	for i, col := range cols {
		v, ok := row.Values[col.Name]
		if !ok {
			fields[i] = ""
			continue
		}
		field, err := BulkField(v, col.Type)
		if err != nil {
			return nil, fmt.Errorf("codec: column %q: %w", col.Name, err)
		}
		fields[i] = field
	}
	return fields, nil
}

// RecordWireSize returns the serialized byte size of one delimited-text
// record: fields, separators, and the record terminator.
func RecordWireSize(fields []string) int {
	size := 0
	for _, f := range fields {
		size += len(f)
	}
	if len(fields) > 0 {
		size += len(fields) - 1
	}
	return size + 1
}

// WriteCSV writes a header record followed by the given pre-encoded records.
func WriteCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("codec: failed to write csv header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("codec: failed to write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("codec: failed to flush csv: %w", err)
	}
	return nil
}
