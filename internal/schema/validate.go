package schema

import (
	"fmt"
	"log"
	"regexp"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/pkg/types"
)

// columnNamePattern is the character class the service accepts for column
// names.
var columnNamePattern = regexp.MustCompile(`^[A-Za-z0-9,_.]+$`)

// ValidateName checks one column name against the allowed character class.
func ValidateName(name string) error {
	if !columnNamePattern.MatchString(name) {
		return errors.NewValidationError(errors.CodeInvalidColumnName,
			fmt.Sprintf("column name %q contains characters outside [A-Za-z0-9,_.]", name))
	}
	return nil
}

// ValidateColumnNames checks every column in the set. Violations are raised
// before any remote call is made.
func ValidateColumnNames(set *types.ColumnSet) error {
	for _, col := range set.Columns() {
		if err := ValidateName(col.Name); err != nil {
			return err
		}
	}
	return nil
}

// MergeDefaultColumns merges server-managed default columns into a desired
// column set for a view-like entity. Defaults lead the resulting order; a
// user-defined column colliding with a default by name is overwritten by
// the default and logged as a warning, not an error.
func MergeDefaultColumns(desired *types.ColumnSet, defaults []*types.Column) *types.ColumnSet {
	merged := &types.ColumnSet{}
	defaultNames := make(map[string]bool, len(defaults))
	for _, def := range defaults {
		defaultNames[def.Name] = true
		if _, ok := desired.Get(def.Name); ok {
			log.Printf("schema: user column %q overwritten by server-managed default column", def.Name)
		}
		merged.Put(def.Clone())
	}
	for _, col := range desired.Columns() {
		if defaultNames[col.Name] {
			continue
		}
		merged.Put(col)
	}
	return merged
}
