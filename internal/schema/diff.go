// Package schema computes the minimal ordered schema-change transaction
// between two column-set snapshots.
//
// Columns are content-addressed on the server: persisting changed column
// content may or may not return a fresh ID depending on the service's own
// hashing rule. The diff engine does not assume which fields are ID-stable;
// it orchestrates the before/after comparison and relays whatever ID the
// persist step returns.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/tessera/tessera/pkg/types"
)

// PersistFunc persists column content as a single remote batch call and
// returns the columns with server-assigned IDs, in input order.
type PersistFunc func(ctx context.Context, cols []*types.Column) ([]*types.Column, error)

// ContentHash returns the 128-bit content hash of a column over every field
// except the server-assigned ID. Two columns with equal hashes carry the
// same persistable content.
func ContentHash(c *types.Column) string {
	cp := c.Clone()
	cp.ID = ""
	data, err := json.Marshal(cp)
	if err != nil {
		// Column fields are all JSON-encodable; treat a failure as unique
		// content so the column is re-persisted rather than skipped.
		return fmt.Sprintf("unhashable:%p", c)
	}
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// Diff computes the schema-change transaction that moves an entity's schema
// from the previous snapshot to the desired column set.
//
// Columns whose content differs from their last-persisted counterpart (or
// which were never persisted) are sent through persist; the transaction
// pairs each retired ID with the freshly returned one. Desired columns whose
// content is unchanged adopt their previous ID without a remote call.
// markedForDeletion names contribute removed entries and are skipped in the
// resulting column order.
//
// Returns nil when the desired order equals the previous order and nothing
// was added or removed. The caller-supplied columns are never mutated except
// for recording server-assigned IDs after a successful persist call.
func Diff(ctx context.Context, entityID string, prev, desired *types.ColumnSet, markedForDeletion map[string]bool, persist PersistFunc) (*types.SchemaChangeTransaction, error) {
	var toPersist []*types.Column
	var oldIDs []string // aligned with toPersist; "" when the name is new

	for _, col := range desired.Columns() {
		if markedForDeletion[col.Name] {
			continue
		}
		prevCol, existed := prev.Get(col.Name)
		if existed && col.ID == "" && ContentHash(col) == ContentHash(prevCol) {
			// Unchanged content: adopt the persisted ID.
			col.ID = prevCol.ID
			continue
		}
		if existed && col.ID != "" && col.ID == prevCol.ID && ContentHash(col) == ContentHash(prevCol) {
			continue
		}
		toPersist = append(toPersist, col)
		if existed {
			oldIDs = append(oldIDs, prevCol.ID)
		} else {
			oldIDs = append(oldIDs, "")
		}
	}

	txn := &types.SchemaChangeTransaction{EntityID: entityID}

	if len(toPersist) > 0 {
		persisted, err := persist(ctx, toPersist)
		if err != nil {
			return nil, fmt.Errorf("schema: failed to persist columns: %w", err)
		}
		if len(persisted) != len(toPersist) {
			return nil, fmt.Errorf("schema: persisted %d columns, want %d", len(persisted), len(toPersist))
		}
		for i, col := range toPersist {
			newID := persisted[i].ID
			if newID == "" {
				return nil, fmt.Errorf("schema: persist returned no id for column %q", col.Name)
			}
			col.ID = newID
			if oldIDs[i] == newID {
				// The service judged the content unchanged and reissued the
				// same ID; nothing to transact for this column.
				continue
			}
			txn.Added = append(txn.Added, types.ColumnChange{
				OldColumnID: oldIDs[i],
				NewColumnID: newID,
			})
		}
	}

	// Walk the previous snapshot so removals come out in a stable order.
	removedSeen := make(map[string]bool, len(markedForDeletion))
	for _, prevCol := range prev.Columns() {
		if markedForDeletion[prevCol.Name] && prevCol.ID != "" {
			txn.Removed = append(txn.Removed, prevCol.ID)
			removedSeen[prevCol.Name] = true
		}
	}
	for _, col := range desired.Columns() {
		if markedForDeletion[col.Name] && !removedSeen[col.Name] && col.ID != "" {
			txn.Removed = append(txn.Removed, col.ID)
		}
	}

	for _, col := range desired.Columns() {
		if markedForDeletion[col.Name] {
			continue
		}
		txn.OrderedColumnIDs = append(txn.OrderedColumnIDs, col.ID)
	}

	if len(txn.Added) == 0 && len(txn.Removed) == 0 && sameOrder(txn.OrderedColumnIDs, prev.OrderedIDs()) {
		return nil, nil
	}
	return txn, nil
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
