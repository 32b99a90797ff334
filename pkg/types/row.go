package types

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
)

// Row is a mapping from column name to a typed value. Rows read from the
// remote carry an opaque ID and Version (and, for entity kinds that support
// them, an ETag) that must be preserved unchanged when writing an update back.
type Row struct {
	// ID is the opaque server-assigned row identifier. Empty for new rows.
	ID string `json:"row_id,omitempty"`

	// Version is the server-assigned row version.
	Version int64 `json:"row_version,omitempty"`

	// ETag tracks eventual-consistency propagation for view-backed kinds.
	ETag string `json:"etag,omitempty"`

	// Values maps column name to cell value. A nil value is NA.
	Values map[string]any `json:"values"`
}

// Clone returns a copy of the row with its own value map.
func (r Row) Clone() Row {
	cp := r
	cp.Values = make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		cp.Values[k] = v
	}
	return cp
}

// RowSet is the canonical in-memory tabular representation: an ordered column
// header plus rows keyed by column name.
type RowSet struct {
	// Columns is the column name order used for bulk encoding.
	Columns []string `json:"columns"`

	// Rows holds the row data.
	Rows []Row `json:"rows"`
}

// CellChange assigns a new value to one column of an existing row. A nil
// Value explicitly clears the cell; an omitted column leaves it untouched.
type CellChange struct {
	ColumnID string `json:"column_id"`
	Value    any    `json:"value"`
}

// RowPatch is a sparse update touching only the named columns of one
// persisted row.
type RowPatch struct {
	RowID   string       `json:"row_id"`
	ETag    string       `json:"etag,omitempty"`
	Changes []CellChange `json:"changes"`
}

// RowSource is tabular input in one of the accepted shapes (CSV file, column
// mapping, or in-memory rows), normalized to a RowSet at the boundary.
type RowSource interface {
	// RowSet materializes the source as the canonical tabular representation.
	RowSet() (*RowSet, error)
}

// Rows adapts an in-memory RowSet as a RowSource.
func Rows(rs *RowSet) RowSource { return rowSetSource{rs} }

type rowSetSource struct{ rs *RowSet }

func (s rowSetSource) RowSet() (*RowSet, error) {
	if s.rs == nil {
		return nil, fmt.Errorf("types: nil row set")
	}
	return s.rs, nil
}

// ColumnMap adapts a column-name-to-values mapping as a RowSource. Column
// order is the sorted name order; all value slices must have equal length.
type ColumnMap map[string][]any

func (m ColumnMap) RowSet() (*RowSet, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	length := -1
	for _, name := range names {
		if length == -1 {
			length = len(m[name])
			continue
		}
		if len(m[name]) != length {
			return nil, fmt.Errorf("types: column %q has %d values, want %d", name, len(m[name]), length)
		}
	}
	if length < 0 {
		length = 0
	}

	rs := &RowSet{Columns: names, Rows: make([]Row, length)}
	for i := 0; i < length; i++ {
		values := make(map[string]any, len(names))
		for _, name := range names {
			values[name] = m[name][i]
		}
		rs.Rows[i] = Row{Values: values}
	}
	return rs, nil
}

// CSVFile adapts a delimited-text file as a RowSource. The first record is
// the column header; every cell is read as an uninterpreted string and empty
// cells are NA. Type coercion happens later against the table's column types.
type CSVFile string

func (p CSVFile) RowSet() (*RowSet, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return nil, fmt.Errorf("types: failed to open csv source: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV decodes header-prefixed delimited text into a RowSet.
func ReadCSV(r io.Reader) (*RowSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("types: csv source is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("types: failed to read csv header: %w", err)
	}

	rs := &RowSet{Columns: append([]string(nil), header...)}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("types: failed to read csv record: %w", err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("types: csv record has %d fields, header has %d", len(record), len(header))
		}
		values := make(map[string]any, len(header))
		for i, name := range header {
			if record[i] == "" {
				values[name] = nil
				continue
			}
			values[name] = record[i]
		}
		rs.Rows = append(rs.Rows, Row{Values: values})
	}
	return rs, nil
}
