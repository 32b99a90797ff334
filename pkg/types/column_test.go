package types

import (
	"testing"
)

func TestColumnSet_OrderAndReplace(t *testing.T) {
	s := &ColumnSet{}
	s.Put(&Column{Name: "a", Type: ColumnTypeString})
	s.Put(&Column{Name: "b", Type: ColumnTypeInteger})
	s.Put(&Column{Name: "c", Type: ColumnTypeDouble})

	// Replacing an existing name must preserve its position.
	replaced, ok := s.Put(&Column{Name: "b", Type: ColumnTypeString})
	if !ok {
		t.Fatal("expected replacement of existing column")
	}
	if replaced.Type != ColumnTypeInteger {
		t.Errorf("replaced column type = %s, want INTEGER", replaced.Type)
	}

	names := s.Names()
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("names[%d] = %q, want %q", i, names[i], name)
		}
	}

	col, ok := s.Get("b")
	if !ok || col.Type != ColumnTypeString {
		t.Errorf("Get(b) = %v, want STRING column", col)
	}
}

func TestColumnSet_RejectsDuplicates(t *testing.T) {
	_, err := NewColumnSet(
		&Column{Name: "x", Type: ColumnTypeString},
		&Column{Name: "x", Type: ColumnTypeInteger},
	)
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestColumnSet_Remove(t *testing.T) {
	s := &ColumnSet{}
	s.Put(&Column{Name: "a"})
	s.Put(&Column{Name: "b"})

	if !s.Remove("a") {
		t.Fatal("expected Remove(a) to report true")
	}
	if s.Remove("a") {
		t.Fatal("expected second Remove(a) to report false")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestColumnSet_CloneIsDeep(t *testing.T) {
	s := &ColumnSet{}
	s.Put(&Column{Name: "a", ID: "col1", Type: ColumnTypeString})

	cp := s.Clone()
	cloned, _ := cp.Get("a")
	cloned.ID = "col2"

	original, _ := s.Get("a")
	if original.ID != "col1" {
		t.Errorf("clone mutation leaked into original: id = %s", original.ID)
	}
}

func TestColumnType_Properties(t *testing.T) {
	tests := []struct {
		typ          ColumnType
		isList       bool
		elem         ColumnType
		stringFamily bool
	}{
		{ColumnTypeString, false, ColumnTypeString, true},
		{ColumnTypeLargeText, false, ColumnTypeLargeText, true},
		{ColumnTypeEntityID, false, ColumnTypeEntityID, true},
		{ColumnTypeInteger, false, ColumnTypeInteger, false},
		{ColumnTypeBoolean, false, ColumnTypeBoolean, false},
		{ColumnTypeStringList, true, ColumnTypeString, false},
		{ColumnTypeIntegerList, true, ColumnTypeInteger, false},
		{ColumnTypeDateList, true, ColumnTypeDate, false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsList(); got != tt.isList {
			t.Errorf("%s.IsList() = %v, want %v", tt.typ, got, tt.isList)
		}
		if got := tt.typ.ElementType(); got != tt.elem {
			t.Errorf("%s.ElementType() = %s, want %s", tt.typ, got, tt.elem)
		}
		if got := tt.typ.IsStringFamily(); got != tt.stringFamily {
			t.Errorf("%s.IsStringFamily() = %v, want %v", tt.typ, got, tt.stringFamily)
		}
		if !tt.typ.Valid() {
			t.Errorf("%s.Valid() = false, want true", tt.typ)
		}
	}
	if ColumnType("FANCY").Valid() {
		t.Error("unknown type reported valid")
	}
}
