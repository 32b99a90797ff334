package types

// ColumnChange pairs the retired column ID (if the name was previously
// persisted) with the freshly persisted column ID that replaces it.
type ColumnChange struct {
	// OldColumnID is the ID being retired. Empty for brand-new columns.
	OldColumnID string `json:"old_column_id,omitempty"`

	// NewColumnID is the ID returned by the persist-columns call.
	NewColumnID string `json:"new_column_id"`
}

// SchemaChangeTransaction is the minimal ordered add/remove/reorder batch
// that moves a table's schema from its last-persisted column order to the
// desired one. Applying Added and Removed to the previous ordered-ID
// sequence must yield exactly OrderedColumnIDs.
type SchemaChangeTransaction struct {
	// EntityID is the table-like entity the transaction applies to.
	EntityID string `json:"entity_id"`

	// Added lists (old, new) ID pairs for persisted column content.
	Added []ColumnChange `json:"added,omitempty"`

	// Removed lists IDs of columns staged for deletion.
	Removed []string `json:"removed,omitempty"`

	// OrderedColumnIDs is the canonical column order after the transaction.
	OrderedColumnIDs []string `json:"ordered_column_ids"`
}

// Apply computes the column-ID set that results from applying the
// transaction's Added and Removed entries to a previous ordered-ID sequence.
// The result preserves the previous relative order for surviving IDs and
// appends newly added IDs; it is used to check transaction completeness, not
// to derive the canonical order (that is OrderedColumnIDs).
func (t *SchemaChangeTransaction) Apply(prev []string) []string {
	dropped := make(map[string]bool, len(t.Removed)+len(t.Added))
	for _, id := range t.Removed {
		dropped[id] = true
	}
	for _, ch := range t.Added {
		if ch.OldColumnID != "" {
			dropped[ch.OldColumnID] = true
		}
	}

	var out []string
	for _, id := range prev {
		if id != "" && !dropped[id] {
			out = append(out, id)
		}
	}
	for _, ch := range t.Added {
		out = append(out, ch.NewColumnID)
	}
	return out
}
