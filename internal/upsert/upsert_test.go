package upsert

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/internal/remote"
	"github.com/tessera/tessera/internal/staging"
	"github.com/tessera/tessera/pkg/types"
)

type fixture struct {
	fake  *remote.Fake
	stage *staging.LocalStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stage, err := staging.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fake := remote.NewFake()
	fake.SetStaging(stage)
	return &fixture{fake: fake, stage: stage}
}

// newTable creates a persisted table with server-assigned column IDs.
func (fx *fixture) newTable(t *testing.T, cols ...*types.Column) *types.Table {
	t.Helper()
	ctx := context.Background()
	persisted, err := fx.fake.PersistColumns(ctx, cols)
	if err != nil {
		t.Fatal(err)
	}
	set, err := types.NewColumnSet(persisted...)
	if err != nil {
		t.Fatal(err)
	}
	tab := types.NewTable("tbl", "proj1")
	tab.SetColumns(set)
	if err := fx.fake.CreateEntity(ctx, tab); err != nil {
		t.Fatal(err)
	}
	return tab
}

func (fx *fixture) orchestrator(opts Options) *Orchestrator {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return New(fx.fake, fx.stage, opts)
}

// seed inserts rows through the bulk path.
func (fx *fixture) seed(t *testing.T, tab *types.Table, keys []string, rows *types.RowSet) {
	t.Helper()
	orch := fx.orchestrator(Options{PrimaryKeys: keys})
	summary, err := orch.Run(context.Background(), tab, types.Rows(rows))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if summary.RowsInserted != int64(len(rows.Rows)) {
		t.Fatalf("seed inserted %d of %d rows", summary.RowsInserted, len(rows.Rows))
	}
}

func (fx *fixture) cell(t *testing.T, tab *types.Table, keyCol, key, col string) any {
	t.Helper()
	sql := fmt.Sprintf(`SELECT "%s","%s" FROM %s WHERE "%s" IN ('%s')`, keyCol, col, tab.ID(), keyCol, key)
	rs, err := fx.fake.Query(context.Background(), sql, remote.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("query for %s returned %d rows", key, len(rs.Rows))
	}
	return rs.Rows[0].Values[col]
}

func sampleColumns() []*types.Column {
	return []*types.Column{
		{Name: "sample_id", Type: types.ColumnTypeString},
		{Name: "age", Type: types.ColumnTypeInteger},
	}
}

func sampleRows(pairs ...any) *types.RowSet {
	rs := &types.RowSet{Columns: []string{"sample_id", "age"}}
	for i := 0; i < len(pairs); i += 2 {
		rs.Rows = append(rs.Rows, types.Row{Values: map[string]any{
			"sample_id": pairs[i],
			"age":       pairs[i+1],
		}})
	}
	return rs
}

func TestRun_UpdatesChangedCell(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	fx.seed(t, tab, []string{"sample_id"}, sampleRows("A", 70))

	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	summary, err := orch.Run(context.Background(), tab, types.Rows(sampleRows("A", 71)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.RowsUpdated != 1 || summary.RowsInserted != 0 || summary.RowsUnchanged != 0 {
		t.Errorf("summary = %+v, want one update", summary)
	}
	if got := fx.cell(t, tab, "sample_id", "A", "age"); got != int64(71) {
		t.Errorf("age = %v (%T), want 71", got, got)
	}
	if fx.fake.RowCount(tab.ID()) != 1 {
		t.Errorf("row count = %d, want 1", fx.fake.RowCount(tab.ID()))
	}
}

func TestRun_UnchangedRowAndNewRow(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	fx.seed(t, tab, []string{"sample_id"}, sampleRows("A", 70))

	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	summary, err := orch.Run(context.Background(), tab, types.Rows(sampleRows("A", 70, "B", 65)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.RowsUnchanged != 1 || summary.RowsInserted != 1 || summary.RowsUpdated != 0 {
		t.Errorf("summary = %+v, want one unchanged and one insert", summary)
	}
	if fx.fake.RowCount(tab.ID()) != 2 {
		t.Errorf("row count = %d, want 2", fx.fake.RowCount(tab.ID()))
	}
	if got := fx.cell(t, tab, "sample_id", "B", "age"); got != "65" {
		t.Errorf("inserted age = %v (%T), want bulk string 65", got, got)
	}
}

func TestRun_SecondApplicationIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	fx.seed(t, tab, []string{"sample_id"}, sampleRows("A", 70))

	rows := sampleRows("A", 71, "B", 65)
	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	if _, err := orch.Run(context.Background(), tab, types.Rows(rows)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	summary, err := orch.Run(context.Background(), tab, types.Rows(rows))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.RowsUpdated != 0 || summary.RowsInserted != 0 || summary.RowsUnchanged != 2 {
		t.Errorf("second run summary = %+v, want all unchanged", summary)
	}
}

func TestRun_ListPrimaryKeyRejectedBeforeAnyQuery(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t,
		&types.Column{Name: "tags", Type: types.ColumnTypeStringList},
		&types.Column{Name: "age", Type: types.ColumnTypeInteger},
	)

	rs := &types.RowSet{
		Columns: []string{"tags", "age"},
		Rows:    []types.Row{{Values: map[string]any{"tags": []any{"x"}, "age": 1}}},
	}
	orch := fx.orchestrator(Options{PrimaryKeys: []string{"tags"}})
	_, err := orch.Run(context.Background(), tab, types.Rows(rs))

	if errors.GetCode(err) != errors.CodeInvalidPrimaryKey {
		t.Fatalf("error = %v, want INVALID_PRIMARY_KEY", err)
	}
	if len(fx.fake.QueryLog) != 0 {
		t.Errorf("a query was issued before validation: %v", fx.fake.QueryLog)
	}
}

func TestRun_MissingPrimaryKeys(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)

	orch := fx.orchestrator(Options{})
	_, err := orch.Run(context.Background(), tab, types.Rows(sampleRows("A", 1)))
	if errors.GetCode(err) != errors.CodeMissingField {
		t.Errorf("no keys: error = %v, want MISSING_FIELD", err)
	}

	orch = fx.orchestrator(Options{PrimaryKeys: []string{"nope"}})
	_, err = orch.Run(context.Background(), tab, types.Rows(sampleRows("A", 1)))
	if errors.GetCode(err) != errors.CodeMissingField {
		t.Errorf("unknown key: error = %v, want MISSING_FIELD", err)
	}
	if len(fx.fake.QueryLog) != 0 {
		t.Errorf("a query was issued before validation: %v", fx.fake.QueryLog)
	}
}

func TestRun_AmbiguousMatchIsHardError(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	fx.seed(t, tab, []string{"sample_id"}, sampleRows("A", 70))

	// Two incoming rows share one key combination.
	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	_, err := orch.Run(context.Background(), tab, types.Rows(sampleRows("A", 1, "A", 2)))
	if errors.GetCode(err) != errors.CodeAmbiguousMatch {
		t.Fatalf("error = %v, want AMBIGUOUS_MATCH", err)
	}
}

func TestRun_DryRunIssuesNoWrites(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	fx.seed(t, tab, []string{"sample_id"}, sampleRows("A", 70))
	queriesBefore := len(fx.fake.QueryLog)

	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}, DryRun: true})
	summary, err := orch.Run(context.Background(), tab, types.Rows(sampleRows("A", 71, "B", 65)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !summary.DryRun {
		t.Error("summary not marked as dry run")
	}
	if summary.RowsUpdated != 1 || summary.RowsInserted != 1 {
		t.Errorf("summary = %+v, want full delta computation", summary)
	}
	// Reads happened, writes did not.
	if len(fx.fake.QueryLog) <= queriesBefore {
		t.Error("dry run issued no candidate query")
	}
	if fx.fake.RowCount(tab.ID()) != 1 {
		t.Errorf("row count = %d, want 1", fx.fake.RowCount(tab.ID()))
	}
	if got := fx.cell(t, tab, "sample_id", "A", "age"); got != "70" {
		t.Errorf("age = %v, dry run must not patch", got)
	}
}

func TestRun_IncomingNAClearsOnlyNonEmptyCells(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	seedRows := &types.RowSet{
		Columns: []string{"sample_id", "age"},
		Rows: []types.Row{
			{Values: map[string]any{"sample_id": "A", "age": 70}},
			{Values: map[string]any{"sample_id": "B", "age": nil}},
		},
	}
	fx.seed(t, tab, []string{"sample_id"}, seedRows)

	incoming := &types.RowSet{
		Columns: []string{"sample_id", "age"},
		Rows: []types.Row{
			{Values: map[string]any{"sample_id": "A", "age": nil}},
			{Values: map[string]any{"sample_id": "B", "age": nil}},
		},
	}
	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	summary, err := orch.Run(context.Background(), tab, types.Rows(incoming))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A had a value so NA clears it; B was already empty so it is unchanged.
	if summary.RowsUpdated != 1 || summary.RowsUnchanged != 1 {
		t.Errorf("summary = %+v, want one clear and one unchanged", summary)
	}
	if got := fx.cell(t, tab, "sample_id", "A", "age"); got != nil {
		t.Errorf("age = %v, want cleared", got)
	}
}

func TestRun_ColumnsMissingFromTableAreIgnored(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	fx.seed(t, tab, []string{"sample_id"}, sampleRows("A", 70))

	incoming := &types.RowSet{
		Columns: []string{"sample_id", "age", "phantom"},
		Rows: []types.Row{
			{Values: map[string]any{"sample_id": "A", "age": 70, "phantom": "x"}},
		},
	}
	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	summary, err := orch.Run(context.Background(), tab, types.Rows(incoming))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RowsUnchanged != 1 {
		t.Errorf("summary = %+v, extra column must not force an update", summary)
	}
}

func TestRun_PagingPreservesPartitionTotality(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)

	// Seed every third row, then upsert 20 rows with a page size of 3 so
	// updates and inserts interleave across pages.
	seed := &types.RowSet{Columns: []string{"sample_id", "age"}}
	incoming := &types.RowSet{Columns: []string{"sample_id", "age"}}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("S%02d", i)
		if i%3 == 0 {
			seed.Rows = append(seed.Rows, types.Row{Values: map[string]any{"sample_id": id, "age": i}})
		}
		incoming.Rows = append(incoming.Rows, types.Row{Values: map[string]any{"sample_id": id, "age": i * 10}})
	}
	fx.seed(t, tab, []string{"sample_id"}, seed)

	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}, RowsPerQuery: 3})
	summary, err := orch.Run(context.Background(), tab, types.Rows(incoming))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	total := summary.RowsUpdated + summary.RowsUnchanged + summary.RowsInserted
	if total != int64(len(incoming.Rows)) {
		t.Errorf("updated+unchanged+inserted = %d, want %d", total, len(incoming.Rows))
	}
	// Seeded rows with age 0 match incoming S00 (0*10 == 0): one unchanged.
	if summary.RowsUpdated != 6 || summary.RowsUnchanged != 1 || summary.RowsInserted != 13 {
		t.Errorf("summary = %+v, want 6/1/13", summary)
	}
	if fx.fake.RowCount(tab.ID()) != 20 {
		t.Errorf("row count = %d, want 20", fx.fake.RowCount(tab.ID()))
	}
}

func TestRun_SmallUpdateCeilingSplitsBatches(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)

	seed := &types.RowSet{Columns: []string{"sample_id", "age"}}
	incoming := &types.RowSet{Columns: []string{"sample_id", "age"}}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("S%d", i)
		seed.Rows = append(seed.Rows, types.Row{Values: map[string]any{"sample_id": id, "age": i}})
		incoming.Rows = append(incoming.Rows, types.Row{Values: map[string]any{"sample_id": id, "age": i + 100}})
	}
	fx.seed(t, tab, []string{"sample_id"}, seed)

	// Each serialized patch is larger than the ceiling, forcing one batch
	// per patch.
	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}, UpdateSizeBytes: 1})
	summary, err := orch.Run(context.Background(), tab, types.Rows(incoming))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.RowsUpdated != 8 {
		t.Fatalf("updated = %d, want 8", summary.RowsUpdated)
	}
	if summary.UpdateBatches != 8 {
		t.Errorf("update batches = %d, want 8", summary.UpdateBatches)
	}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("S%d", i)
		if got := fx.cell(t, tab, "sample_id", id, "age"); got != int64(i+100) {
			t.Errorf("%s age = %v, want %d", id, got, i+100)
		}
	}
}

func TestRun_ConsistencyWaitProbesETags(t *testing.T) {
	fx := newFixture(t)

	// View-like kinds carry row etags.
	persisted, err := fx.fake.PersistColumns(context.Background(), sampleColumns())
	if err != nil {
		t.Fatal(err)
	}
	set, _ := types.NewColumnSet(persisted...)
	view := types.NewView("v", "proj1", 1, "scope1")
	view.SetColumns(set)
	if err := fx.fake.CreateEntity(context.Background(), view); err != nil {
		t.Fatal(err)
	}

	seedOrch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	if _, err := seedOrch.Run(context.Background(), view, types.Rows(sampleRows("A", 70))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	orch := fx.orchestrator(Options{
		PrimaryKeys:        []string{"sample_id"},
		WaitForConsistency: true,
		ConsistencyTimeout: time.Second,
	})
	summary, err := orch.Run(context.Background(), view, types.Rows(sampleRows("A", 71)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RowsUpdated != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	var probed bool
	for _, sql := range fx.fake.QueryLog {
		if strings.Contains(sql, "ROW_ETAG IN") {
			probed = true
		}
	}
	if !probed {
		t.Errorf("no consistency probe issued: %v", fx.fake.QueryLog)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)

	orch := fx.orchestrator(Options{PrimaryKeys: []string{"sample_id"}})
	summary, err := orch.Run(context.Background(), tab,
		types.Rows(&types.RowSet{Columns: []string{"sample_id", "age"}}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RowsUpdated+summary.RowsUnchanged+summary.RowsInserted != 0 {
		t.Errorf("summary = %+v, want all zero", summary)
	}
	if len(fx.fake.QueryLog) != 0 {
		t.Errorf("empty input issued queries: %v", fx.fake.QueryLog)
	}
}

func TestStoreRows_AppendsWithoutMatching(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)
	fx.seed(t, tab, []string{"sample_id"}, sampleRows("A", 70))

	// No primary keys and no candidate queries: even a duplicate key appends.
	queriesBefore := len(fx.fake.QueryLog)
	orch := fx.orchestrator(Options{})
	summary, err := orch.StoreRows(context.Background(), tab, types.Rows(sampleRows("A", 71, "B", 80)))
	if err != nil {
		t.Fatalf("StoreRows: %v", err)
	}
	if summary.RowsInserted != 2 || summary.RowsUpdated != 0 {
		t.Errorf("summary = %+v, want two inserts", summary)
	}
	if got := fx.fake.RowCount(tab.ID()); got != 3 {
		t.Errorf("row count = %d, want 3", got)
	}
	if len(fx.fake.QueryLog) != queriesBefore {
		t.Errorf("append issued queries: %v", fx.fake.QueryLog[queriesBefore:])
	}
}

func TestStoreRows_DryRunWritesNothing(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)

	orch := fx.orchestrator(Options{DryRun: true})
	summary, err := orch.StoreRows(context.Background(), tab, types.Rows(sampleRows("A", 70)))
	if err != nil {
		t.Fatalf("StoreRows: %v", err)
	}
	if summary.RowsInserted != 1 || !summary.DryRun {
		t.Errorf("summary = %+v", summary)
	}
	if got := fx.fake.RowCount(tab.ID()); got != 0 {
		t.Errorf("dry run inserted %d rows", got)
	}
}

func TestStoreRows_NoMatchingColumns(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)

	rs := &types.RowSet{
		Columns: []string{"unknown"},
		Rows:    []types.Row{{Values: map[string]any{"unknown": "x"}}},
	}
	orch := fx.orchestrator(Options{})
	_, err := orch.StoreRows(context.Background(), tab, types.Rows(rs))
	if errors.GetCode(err) != errors.CodeMissingField {
		t.Errorf("error = %v, want MISSING_FIELD", err)
	}
}

// deleteFailingStorage simulates a staging store that accepts uploads but
// cannot remove them.
type deleteFailingStorage struct {
	staging.ObjectStorage
}

func (d deleteFailingStorage) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("permission denied")
}

func TestRun_StagingCleanupFailureDoesNotFailRun(t *testing.T) {
	fx := newFixture(t)
	tab := fx.newTable(t, sampleColumns()...)

	orch := New(fx.fake, deleteFailingStorage{fx.stage}, Options{
		PrimaryKeys:  []string{"sample_id"},
		PollInterval: time.Millisecond,
	})
	summary, err := orch.Run(context.Background(), tab, types.Rows(sampleRows("A", 70)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RowsInserted != 1 {
		t.Errorf("summary = %+v, want one insert", summary)
	}
	if got := fx.fake.RowCount(tab.ID()); got != 1 {
		t.Errorf("row count = %d, want 1", got)
	}
}
