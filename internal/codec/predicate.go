package codec

import (
	"fmt"
	"strings"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/pkg/types"
)

// QuoteIdentifier renders a column name as a quoted SQL identifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral renders a string as a single-quoted SQL literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// PredicateLiteral renders one value as the literal form used inside a
// generated IN (...) predicate: string-family types quote, booleans render
// as the literal strings 'true'/'false', all other scalar types render
// unquoted (dates as epoch milliseconds).
func PredicateLiteral(v any, t types.ColumnType) (string, error) {
	if t.IsList() || t == types.ColumnTypeJSON {
		return "", errors.NewCodecError(errors.CodeUnsupportedType,
			fmt.Sprintf("type %s cannot appear in a filter predicate", t))
	}

	s, err := ScalarString(v, t)
	if err != nil {
		return "", err
	}
	if t.IsStringFamily() || t == types.ColumnTypeBoolean {
		return quoteLiteral(s), nil
	}
	return s, nil
}

// BuildInPredicate returns `"name" IN (...)` over de-duplicated literals in
// first-seen order. NA values are skipped: a missing key cell can never
// match a persisted row.
func BuildInPredicate(col *types.Column, values []any) (string, error) {
	if err := ValidatePrimaryKey(col); err != nil {
		return "", err
	}

	seen := make(map[string]bool, len(values))
	var literals []string
	for _, v := range values {
		if IsNA(v) {
			continue
		}
		lit, err := PredicateLiteral(v, col.Type)
		if err != nil {
			return "", fmt.Errorf("codec: column %q: %w", col.Name, err)
		}
		if seen[lit] {
			continue
		}
		seen[lit] = true
		literals = append(literals, lit)
	}

	if len(literals) == 0 {
		return "", errors.NewValidationError(errors.CodeMissingField,
			fmt.Sprintf("no usable values for primary key column %q", col.Name))
	}

	return fmt.Sprintf("%s IN (%s)", QuoteIdentifier(col.Name), strings.Join(literals, ",")), nil
}
