// Package codec converts between the canonical in-memory tabular
// representation and the two wire encodings the remote service accepts:
// delimited-text bulk rows for inserts, and sparse key/value partial-row
// patches for updates. It also renders the literal forms used in generated
// filter predicates.
//
// Type mismatches between a declared column type and a supplied value are
// not validated pre-emptively; the remote service's own rejection is
// surfaced as-is. The one local precondition is the LIST/JSON primary-key
// rejection in ValidatePrimaryKey.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/pkg/types"
)

// IsNA reports whether a cell value is missing. A missing value renders as
// an explicit clear on the wire, distinguished from an omitted column.
func IsNA(v any) bool {
	return v == nil
}

// ValidatePrimaryKey rejects column types that cannot serve as upsert keys.
// Equality-filtering over LIST and JSON columns is not meaningful.
func ValidatePrimaryKey(col *types.Column) error {
	if col.Type.IsList() || col.Type == types.ColumnTypeJSON {
		return errors.NewValidationError(errors.CodeInvalidPrimaryKey,
			fmt.Sprintf("column %q of type %s cannot be used as a primary key", col.Name, col.Type))
	}
	return nil
}

// ScalarString renders a scalar cell value as its wire string for the given
// scalar column type.
func ScalarString(v any, t types.ColumnType) (string, error) {
	switch t {
	case types.ColumnTypeBoolean:
		b, err := toBool(v)
		if err != nil {
			return "", err
		}
		if b {
			return "true", nil
		}
		return "false", nil

	case types.ColumnTypeDate:
		ms, err := toEpochMillis(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(ms, 10), nil

	case types.ColumnTypeInteger:
		i, err := toInt64(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(i, 10), nil

	case types.ColumnTypeDouble:
		switch x := v.(type) {
		case string:
			return x, nil
		default:
			f, err := toFloat64(v)
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}

	default:
		// String family and reference-id types pass through.
		switch x := v.(type) {
		case string:
			return x, nil
		default:
			return fmt.Sprintf("%v", x), nil
		}
	}
}

// BulkField renders one cell as a bulk delimited-text field for its column.
// NA renders as the empty field; lists as comma-delimited element wire
// strings; JSON cells as a plain JSON dump.
func BulkField(v any, t types.ColumnType) (string, error) {
	if IsNA(v) {
		return "", nil
	}

	if t == types.ColumnTypeJSON {
		if s, ok := v.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", errors.NewCodecError(errors.CodeBadValue,
				fmt.Sprintf("cannot serialize JSON cell: %v", err))
		}
		return string(data), nil
	}

	if t.IsList() {
		elems, err := toList(v)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(elems))
		for i, e := range elems {
			s, err := ScalarString(e, t.ElementType())
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	}

	return ScalarString(v, t)
}

// PatchValue renders a cell value for a partial-row patch payload. NA maps
// to nil (explicit clear). Booleans are language-native here, unlike the
// literal strings used inside generated predicates.
func PatchValue(v any, t types.ColumnType) (any, error) {
	if IsNA(v) {
		return nil, nil
	}

	if t == types.ColumnTypeJSON {
		return v, nil
	}

	if t.IsList() {
		elems, err := toList(v)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			pv, err := PatchValue(e, t.ElementType())
			if err != nil {
				return nil, err
			}
			out[i] = pv
		}
		return out, nil
	}

	switch t {
	case types.ColumnTypeBoolean:
		return toBool(v)
	case types.ColumnTypeDate:
		return toEpochMillis(v)
	case types.ColumnTypeInteger:
		return toInt64(v)
	case types.ColumnTypeDouble:
		return toFloat64(v)
	default:
		s, err := ScalarString(v, t)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ValuesEqual reports whether a persisted value and an incoming value are
// the same cell content under the column's type. Values are compared in
// normalized wire form, so "71" and int64(71) are equal for an INTEGER
// column.
func ValuesEqual(a, b any, t types.ColumnType) bool {
	if IsNA(a) || IsNA(b) {
		return IsNA(a) && IsNA(b)
	}

	if t == types.ColumnTypeJSON {
		return canonicalJSON(a) == canonicalJSON(b)
	}

	if t.IsList() {
		ae, errA := toList(a)
		be, errB := toList(b)
		if errA != nil || errB != nil || len(ae) != len(be) {
			return false
		}
		for i := range ae {
			if !ValuesEqual(ae[i], be[i], t.ElementType()) {
				return false
			}
		}
		return true
	}

	as, errA := ScalarString(a, t)
	bs, errB := ScalarString(b, t)
	if errA != nil || errB != nil {
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
	return as == bs
}

// canonicalJSON renders a JSON cell in a stable comparable form.
func canonicalJSON(v any) string {
	if s, ok := v.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			v = decoded
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, errors.NewCodecError(errors.CodeBadValue,
			fmt.Sprintf("cannot interpret %q as BOOLEAN", x))
	default:
		return false, errors.NewCodecError(errors.CodeBadValue,
			fmt.Sprintf("cannot interpret %T as BOOLEAN", v))
	}
}

// toEpochMillis normalizes DATE cells to Unix epoch milliseconds.
func toEpochMillis(v any) (int64, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli(), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ms, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UnixMilli(), nil
			}
		}
		return 0, errors.NewCodecError(errors.CodeBadValue,
			fmt.Sprintf("cannot interpret %q as DATE", x))
	default:
		return 0, errors.NewCodecError(errors.CodeBadValue,
			fmt.Sprintf("cannot interpret %T as DATE", v))
	}
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, errors.NewCodecError(errors.CodeBadValue,
				fmt.Sprintf("cannot interpret %q as INTEGER", x))
		}
		return i, nil
	default:
		return 0, errors.NewCodecError(errors.CodeBadValue,
			fmt.Sprintf("cannot interpret %T as INTEGER", v))
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, errors.NewCodecError(errors.CodeBadValue,
				fmt.Sprintf("cannot interpret %q as DOUBLE", x))
		}
		return f, nil
	default:
		return 0, errors.NewCodecError(errors.CodeBadValue,
			fmt.Sprintf("cannot interpret %T as DOUBLE", v))
	}
}

// toList accepts the slice shapes tabular input arrives in.
func toList(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []int64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []int:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []float64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []bool:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case string:
		// Bulk-text convention: comma-delimited elements.
		if x == "" {
			return nil, nil
		}
		parts := strings.Split(x, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	default:
		// A lone scalar is treated as a single-element list.
		return []any{v}, nil
	}
}
