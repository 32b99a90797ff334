package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tessera/tessera/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("failed to open snapshot store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(t *testing.T) *types.Snapshot {
	t.Helper()
	cols, err := types.NewColumnSet(
		&types.Column{ID: "col1", Name: "sample_id", Type: types.ColumnTypeString, MaximumSize: 64},
		&types.Column{ID: "col2", Name: "age", Type: types.ColumnTypeInteger},
		&types.Column{ID: "col3", Name: "tags", Type: types.ColumnTypeStringList, MaximumListLength: 10},
	)
	if err != nil {
		t.Fatal(err)
	}
	return &types.Snapshot{
		ETag: "etag7",
		Attributes: types.Attributes{
			Name:        "patients",
			ParentID:    "proj1",
			Description: "cohort",
			Annotations: map[string]any{"owner": "lab"},
		},
		Columns: cols,
	}
}

func TestStore_SaveLoadRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "ent1", types.KindTable, testSnapshot(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "ent1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for saved snapshot")
	}
	if got.ETag != "etag7" {
		t.Errorf("etag = %q, want etag7", got.ETag)
	}
	if got.Attributes.Name != "patients" || got.Attributes.Annotations["owner"] != "lab" {
		t.Errorf("attributes = %+v", got.Attributes)
	}
	if got.Columns.Len() != 3 {
		t.Fatalf("columns = %d, want 3", got.Columns.Len())
	}
	// Order and server-assigned IDs survive the roundtrip.
	ids := got.Columns.OrderedIDs()
	for i, want := range []string{"col1", "col2", "col3"} {
		if ids[i] != want {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want)
		}
	}
	age, ok := got.Columns.Get("age")
	if !ok || age.Type != types.ColumnTypeInteger {
		t.Errorf("age column = %+v", age)
	}
}

func TestStore_LoadMissingIsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load(absent) = %+v, want nil", got)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot(t)
	if err := s.Save(ctx, "ent1", types.KindTable, snap); err != nil {
		t.Fatal(err)
	}

	snap2 := snap.Clone()
	snap2.ETag = "etag8"
	snap2.Columns.Remove("tags")
	if err := s.Save(ctx, "ent1", types.KindTable, snap2); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, "ent1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ETag != "etag8" || got.Columns.Len() != 2 {
		t.Errorf("etag=%q columns=%d, want etag8/2", got.ETag, got.Columns.Len())
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "ent1", types.KindTable, testSnapshot(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "ent1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := s.Load(ctx, "ent1")
	if err != nil || got != nil {
		t.Errorf("Load after delete = %+v (%v), want nil", got, err)
	}

	// Deleting a missing entity is not an error.
	if err := s.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete(absent): %v", err)
	}
}
