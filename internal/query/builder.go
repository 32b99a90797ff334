// Package query generates the SQL text the sync engine issues against the
// remote service. Only the narrow shapes the engine needs are produced;
// query parsing and planning are the server's business.
package query

import (
	"fmt"
	"strings"

	"github.com/tessera/tessera/internal/codec"
)

// SelectColumns builds the upsert candidate query: the named data columns
// from the entity, filtered by the given predicate. Row metadata (ROW_ID,
// ROW_VERSION, ROW_ETAG) is requested through query options rather than the
// select list.
func SelectColumns(entityID string, columns []string, predicate string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = codec.QuoteIdentifier(c)
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ","), entityID)
	if predicate != "" {
		sql += " WHERE " + predicate
	}
	return sql
}

// And joins predicates conjunctively.
func And(predicates []string) string {
	if len(predicates) == 1 {
		return predicates[0]
	}
	return "(" + strings.Join(predicates, ") AND (") + ")"
}

// SelectByETags builds the eventual-consistency probe: which of the tracked
// row etags are visible in the entity right now.
func SelectByETags(entityID string, etags []string) string {
	literals := make([]string, len(etags))
	for i, e := range etags {
		literals[i] = "'" + strings.ReplaceAll(e, "'", "''") + "'"
	}
	return fmt.Sprintf("SELECT ROW_ID FROM %s WHERE ROW_ETAG IN (%s)",
		entityID, strings.Join(literals, ","))
}
