package types

import "testing"

func TestEntityKindCapabilities(t *testing.T) {
	tests := []struct {
		kind        EntityKind
		viewLike    bool
		hasRowETags bool
	}{
		{KindTable, false, false},
		{KindView, true, true},
		{KindDataset, true, true},
		// SQL-defined kinds derive their columns from the defining statement,
		// so server-managed default columns and row etags do not apply.
		{KindMaterializedView, false, false},
		{KindVirtualTable, false, false},
	}

	for _, tt := range tests {
		if got := tt.kind.ViewLike(); got != tt.viewLike {
			t.Errorf("%s.ViewLike() = %v, want %v", tt.kind, got, tt.viewLike)
		}
		if got := tt.kind.HasRowETags(); got != tt.hasRowETags {
			t.Errorf("%s.HasRowETags() = %v, want %v", tt.kind, got, tt.hasRowETags)
		}
	}
}

func TestEntityConstructorsReportTheirKind(t *testing.T) {
	tests := []struct {
		entity TableLike
		kind   EntityKind
	}{
		{NewTable("t", "proj1"), KindTable},
		{NewView("v", "proj1", 1, "scope1"), KindView},
		{NewDataset("d", "proj1", 1), KindDataset},
		{NewMaterializedView("m", "proj1", "SELECT * FROM ent1"), KindMaterializedView},
		{NewVirtualTable("vt", "proj1", "SELECT * FROM ent1"), KindVirtualTable},
	}

	for _, tt := range tests {
		if tt.entity.Kind() != tt.kind {
			t.Errorf("kind = %s, want %s", tt.entity.Kind(), tt.kind)
		}
		if tt.entity.Columns() == nil {
			t.Errorf("%s constructor left a nil column set", tt.kind)
		}
	}
}
