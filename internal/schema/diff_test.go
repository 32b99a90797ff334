package schema

import (
	"context"
	"fmt"
	"testing"

	"github.com/tessera/tessera/pkg/types"
)

// persistCounter is a PersistFunc assigning sequential IDs, reusing IDs for
// content it has seen before, the way the service does.
type persistCounter struct {
	next   int
	byHash map[string]string
	calls  int
}

func newPersistCounter() *persistCounter {
	return &persistCounter{byHash: make(map[string]string)}
}

func (p *persistCounter) persist(ctx context.Context, cols []*types.Column) ([]*types.Column, error) {
	p.calls++
	out := make([]*types.Column, len(cols))
	for i, c := range cols {
		h := ContentHash(c)
		id, ok := p.byHash[h]
		if !ok {
			p.next++
			id = fmt.Sprintf("col%d", p.next)
			p.byHash[h] = id
		}
		cp := c.Clone()
		cp.ID = id
		out[i] = cp
	}
	return out, nil
}

func mustSet(t *testing.T, cols ...*types.Column) *types.ColumnSet {
	t.Helper()
	s, err := types.NewColumnSet(cols...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDiff_NewColumns(t *testing.T) {
	p := newPersistCounter()
	desired := mustSet(t,
		&types.Column{Name: "a", Type: types.ColumnTypeString},
		&types.Column{Name: "b", Type: types.ColumnTypeInteger},
	)

	txn, err := Diff(context.Background(), "ent1", &types.ColumnSet{}, desired, nil, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn == nil {
		t.Fatal("expected a transaction for new columns")
	}
	if len(txn.Added) != 2 || len(txn.Removed) != 0 {
		t.Fatalf("added=%d removed=%d, want 2/0", len(txn.Added), len(txn.Removed))
	}
	for _, ch := range txn.Added {
		if ch.OldColumnID != "" {
			t.Errorf("new column carries old id %q", ch.OldColumnID)
		}
	}
	// Desired columns adopt the server-assigned IDs in order.
	ids := desired.OrderedIDs()
	if ids[0] != txn.OrderedColumnIDs[0] || ids[1] != txn.OrderedColumnIDs[1] {
		t.Errorf("desired ids %v, ordered %v", ids, txn.OrderedColumnIDs)
	}
}

func TestDiff_UnchangedIsNil(t *testing.T) {
	p := newPersistCounter()
	prev := mustSet(t,
		&types.Column{ID: "col1", Name: "a", Type: types.ColumnTypeString},
		&types.Column{ID: "col2", Name: "b", Type: types.ColumnTypeInteger},
	)
	desired := mustSet(t,
		&types.Column{Name: "a", Type: types.ColumnTypeString},
		&types.Column{Name: "b", Type: types.ColumnTypeInteger},
	)

	txn, err := Diff(context.Background(), "ent1", prev, desired, nil, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn != nil {
		t.Fatalf("expected nil transaction, got %+v", txn)
	}
	if p.calls != 0 {
		t.Errorf("unchanged content reached persist (%d calls)", p.calls)
	}
	// Unchanged desired columns adopt their previous IDs without a call.
	if a, _ := desired.Get("a"); a.ID != "col1" {
		t.Errorf("column a id = %q, want col1", a.ID)
	}
}

func TestDiff_ContentChangeReissuesID(t *testing.T) {
	p := newPersistCounter()
	prevCols, _ := p.persist(context.Background(),
		[]*types.Column{{Name: "a", Type: types.ColumnTypeString}})
	prev := mustSet(t, prevCols...)

	desired := mustSet(t,
		&types.Column{Name: "a", Type: types.ColumnTypeString, MaximumSize: 100},
	)

	txn, err := Diff(context.Background(), "ent1", prev, desired, nil, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn == nil || len(txn.Added) != 1 {
		t.Fatalf("txn = %+v, want one added pair", txn)
	}
	ch := txn.Added[0]
	if ch.OldColumnID != prevCols[0].ID {
		t.Errorf("old id = %q, want %q", ch.OldColumnID, prevCols[0].ID)
	}
	if ch.NewColumnID == ch.OldColumnID {
		t.Error("changed content kept its id")
	}
}

func TestDiff_RemovalOrderFollowsPrev(t *testing.T) {
	p := newPersistCounter()
	prev := mustSet(t,
		&types.Column{ID: "col1", Name: "a", Type: types.ColumnTypeString},
		&types.Column{ID: "col2", Name: "b", Type: types.ColumnTypeString},
		&types.Column{ID: "col3", Name: "c", Type: types.ColumnTypeString},
	)
	desired := prev.Clone()

	txn, err := Diff(context.Background(), "ent1", prev, desired,
		map[string]bool{"c": true, "a": true}, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn == nil {
		t.Fatal("expected a transaction")
	}
	if len(txn.Removed) != 2 || txn.Removed[0] != "col1" || txn.Removed[1] != "col3" {
		t.Errorf("removed = %v, want [col1 col3]", txn.Removed)
	}
	if len(txn.OrderedColumnIDs) != 1 || txn.OrderedColumnIDs[0] != "col2" {
		t.Errorf("ordered = %v, want [col2]", txn.OrderedColumnIDs)
	}
}

func TestDiff_ReorderOnly(t *testing.T) {
	p := newPersistCounter()
	prev := mustSet(t,
		&types.Column{ID: "col1", Name: "a", Type: types.ColumnTypeString},
		&types.Column{ID: "col2", Name: "b", Type: types.ColumnTypeString},
	)
	desired := mustSet(t,
		&types.Column{Name: "b", Type: types.ColumnTypeString},
		&types.Column{Name: "a", Type: types.ColumnTypeString},
	)

	txn, err := Diff(context.Background(), "ent1", prev, desired, nil, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn == nil {
		t.Fatal("a pure reorder still needs a transaction")
	}
	if len(txn.Added) != 0 || len(txn.Removed) != 0 {
		t.Errorf("added=%d removed=%d, want 0/0", len(txn.Added), len(txn.Removed))
	}
	if txn.OrderedColumnIDs[0] != "col2" || txn.OrderedColumnIDs[1] != "col1" {
		t.Errorf("ordered = %v", txn.OrderedColumnIDs)
	}
}

func TestDiff_RepeatedDiffIsNoOp(t *testing.T) {
	p := newPersistCounter()
	prevCols, _ := p.persist(context.Background(),
		[]*types.Column{{Name: "a", Type: types.ColumnTypeString}})
	prev := mustSet(t, prevCols...)

	desired := mustSet(t,
		&types.Column{Name: "a", Type: types.ColumnTypeString, MaximumSize: 1},
	)
	txn, err := Diff(context.Background(), "ent1", prev, desired, nil, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn == nil {
		t.Fatal("expected a transaction")
	}

	// Second run with the same desired content diffs against the new state
	// and must be a no-op.
	prev2 := desired.Clone()
	desired2 := mustSet(t,
		&types.Column{Name: "a", Type: types.ColumnTypeString, MaximumSize: 1},
	)
	txn2, err := Diff(context.Background(), "ent1", prev2, desired2, nil, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn2 != nil {
		t.Fatalf("second diff = %+v, want nil", txn2)
	}
}

func TestDiff_RenameWithReissuedID(t *testing.T) {
	p := newPersistCounter()
	prevCols, _ := p.persist(context.Background(), []*types.Column{
		{Name: "foo", Type: types.ColumnTypeString},
		{Name: "keep", Type: types.ColumnTypeInteger},
	})
	prev := mustSet(t, prevCols...)
	fooID, keepID := prevCols[0].ID, prevCols[1].ID

	desired := mustSet(t,
		&types.Column{Name: "bar", Type: types.ColumnTypeString},
		&types.Column{Name: "keep", Type: types.ColumnTypeInteger},
	)

	txn, err := Diff(context.Background(), "ent1", prev, desired,
		map[string]bool{"foo": true}, p.persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn == nil || len(txn.Added) != 1 {
		t.Fatalf("txn = %+v, want one added pair", txn)
	}
	// bar is a new name: no old id on the pair, the retired foo id is a
	// removal instead.
	ch := txn.Added[0]
	if ch.OldColumnID != "" {
		t.Errorf("renamed column carries old id %q", ch.OldColumnID)
	}
	if ch.NewColumnID == "" || ch.NewColumnID == fooID {
		t.Errorf("new id = %q, want a fresh id", ch.NewColumnID)
	}
	if len(txn.Removed) != 1 || txn.Removed[0] != fooID {
		t.Errorf("removed = %v, want [%s]", txn.Removed, fooID)
	}
	// The renamed column keeps its position in the order.
	want := []string{ch.NewColumnID, keepID}
	if len(txn.OrderedColumnIDs) != 2 || txn.OrderedColumnIDs[0] != want[0] || txn.OrderedColumnIDs[1] != want[1] {
		t.Errorf("ordered = %v, want %v", txn.OrderedColumnIDs, want)
	}
}

func TestDiff_RenameWithIDStablePersist(t *testing.T) {
	// A service may judge a rename id-stable and hand the old id back; the
	// transaction relays whatever persist returned.
	persist := func(ctx context.Context, cols []*types.Column) ([]*types.Column, error) {
		out := make([]*types.Column, len(cols))
		for i, c := range cols {
			cp := c.Clone()
			cp.ID = "col1"
			out[i] = cp
		}
		return out, nil
	}
	prev := mustSet(t,
		&types.Column{ID: "col1", Name: "foo", Type: types.ColumnTypeString},
		&types.Column{ID: "col2", Name: "keep", Type: types.ColumnTypeInteger},
	)
	desired := mustSet(t,
		&types.Column{Name: "bar", Type: types.ColumnTypeString},
		&types.Column{ID: "col2", Name: "keep", Type: types.ColumnTypeInteger},
	)

	txn, err := Diff(context.Background(), "ent1", prev, desired,
		map[string]bool{"foo": true}, persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn == nil || len(txn.Added) != 1 {
		t.Fatalf("txn = %+v, want one added pair", txn)
	}
	if txn.Added[0].OldColumnID != "" || txn.Added[0].NewColumnID != "col1" {
		t.Errorf("added = %+v, want {\"\" col1}", txn.Added[0])
	}
	if len(txn.Removed) != 1 || txn.Removed[0] != "col1" {
		t.Errorf("removed = %v, want [col1]", txn.Removed)
	}
	if txn.OrderedColumnIDs[0] != "col1" || txn.OrderedColumnIDs[1] != "col2" {
		t.Errorf("ordered = %v, want [col1 col2]", txn.OrderedColumnIDs)
	}
}

func TestDiff_PersistReturningOldIDElidesPair(t *testing.T) {
	// Locally changed content whose persist comes back under the same id
	// transacts nothing: the service judged the content unchanged.
	persist := func(ctx context.Context, cols []*types.Column) ([]*types.Column, error) {
		out := make([]*types.Column, len(cols))
		for i, c := range cols {
			cp := c.Clone()
			cp.ID = "col1"
			out[i] = cp
		}
		return out, nil
	}
	prev := mustSet(t,
		&types.Column{ID: "col1", Name: "a", Type: types.ColumnTypeString},
	)
	desired := mustSet(t,
		&types.Column{Name: "a", Type: types.ColumnTypeString, MaximumSize: 9},
	)

	txn, err := Diff(context.Background(), "ent1", prev, desired, nil, persist)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if txn != nil {
		t.Fatalf("txn = %+v, want nil", txn)
	}
	if a, _ := desired.Get("a"); a.ID != "col1" {
		t.Errorf("column a id = %q, want the relayed col1", a.ID)
	}
}

func TestContentHash_IgnoresID(t *testing.T) {
	a := &types.Column{ID: "col1", Name: "a", Type: types.ColumnTypeString}
	b := &types.Column{ID: "col9", Name: "a", Type: types.ColumnTypeString}
	if ContentHash(a) != ContentHash(b) {
		t.Error("hash must ignore the server-assigned id")
	}
	c := &types.Column{Name: "a", Type: types.ColumnTypeString, MaximumSize: 5}
	if ContentHash(a) == ContentHash(c) {
		t.Error("hash must cover every other field")
	}
}
