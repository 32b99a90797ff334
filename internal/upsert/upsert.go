// Package upsert implements the top-level update-or-insert algorithm: given
// incoming tabular data and a set of primary-key columns, it determines which
// rows already exist via generated queries, computes per-cell deltas, and
// routes updates through the patch pipeline and new rows through the bulk-row
// pipeline. The two pipelines are never mixed.
package upsert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tessera/tessera/internal/batch"
	"github.com/tessera/tessera/internal/codec"
	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/internal/jobs"
	"github.com/tessera/tessera/internal/observability"
	"github.com/tessera/tessera/internal/query"
	"github.com/tessera/tessera/internal/remote"
	"github.com/tessera/tessera/internal/staging"
	"github.com/tessera/tessera/pkg/types"
)

// API is the subset of the remote surface the orchestrator consumes.
type API interface {
	jobs.API
	Query(ctx context.Context, sql string, opts remote.QueryOptions) (*types.RowSet, error)
}

// Options tunes one upsert run. Zero values fall back to the configured
// defaults.
type Options struct {
	// PrimaryKeys names the columns that identify a row. Required.
	PrimaryKeys []string

	// RowsPerQuery is the page size for candidate-row queries.
	RowsPerQuery int

	// UpdateSizeBytes is the byte ceiling for one patch batch.
	UpdateSizeBytes int64

	// InsertSizeBytes is the byte ceiling for one bulk-insert payload.
	InsertSizeBytes int64

	// DryRun computes the full delta but issues no remote write calls.
	DryRun bool

	// WaitForConsistency blocks after patching until every tracked row etag
	// reappears in query results.
	WaitForConsistency bool

	// ConsistencyTimeout bounds the consistency wait.
	ConsistencyTimeout time.Duration

	// JobTimeout is the stall deadline for each submitted job.
	JobTimeout time.Duration

	// PollInterval is the sleep between job and consistency polls.
	PollInterval time.Duration

	// Progress receives batch and job progress reports.
	Progress types.ProgressFunc

	// Stats receives per-operation timing records. May be nil.
	Stats *observability.SyncStats
}

func (o Options) withDefaults() Options {
	if o.RowsPerQuery <= 0 {
		o.RowsPerQuery = 50000
	}
	if o.UpdateSizeBytes <= 0 {
		o.UpdateSizeBytes = 1900 * 1024
	}
	if o.InsertSizeBytes <= 0 {
		o.InsertSizeBytes = 900 * 1024 * 1024
	}
	if o.ConsistencyTimeout <= 0 {
		o.ConsistencyTimeout = 600 * time.Second
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 600 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// Summary reports what one upsert run did (or, under DryRun, would do).
type Summary struct {
	// RowsUpdated counts input rows that matched a persisted row and carried
	// at least one changed cell.
	RowsUpdated int64

	// RowsUnchanged counts input rows that matched a persisted row with zero
	// changed cells. Never transmitted.
	RowsUnchanged int64

	// RowsInserted counts input rows that matched no persisted row.
	RowsInserted int64

	// UpdateBatches and InsertBatches count flushed request batches.
	UpdateBatches int
	InsertBatches int

	// DryRun records whether writes were suppressed.
	DryRun bool
}

// Orchestrator runs upserts against one remote handle and staging store.
type Orchestrator struct {
	api     API
	staging staging.ObjectStorage
	driver  *jobs.Driver
	opts    Options
}

// New creates an orchestrator. The staging store receives bulk-insert CSV
// payloads before their upload jobs are submitted.
func New(api API, store staging.ObjectStorage, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		api:     api,
		staging: store,
		driver:  jobs.NewDriver(api, opts.PollInterval),
		opts:    opts,
	}
}

// patchItem carries one partial-row patch plus its serialized wire size.
type patchItem struct {
	patch types.RowPatch
	size  int
}

func (p patchItem) WireSize() int { return p.size }

// rowItem carries one pre-encoded bulk CSV record.
type rowItem struct {
	fields []string
}

func (r rowItem) WireSize() int { return codec.RecordWireSize(r.fields) }

// Run upserts the source rows into the entity.
//
// Pages are processed strictly in input order: a page's candidate query is
// issued only after the previous page's patches have been dispatched, because
// the insert determination depends on which input indices earlier pages have
// already claimed. Every input row lands in exactly one of updated, unchanged,
// or inserted.
func (o *Orchestrator) Run(ctx context.Context, entity types.TableLike, source types.RowSource) (*Summary, error) {
	rs, err := source.RowSet()
	if err != nil {
		return nil, fmt.Errorf("upsert: failed to read row source: %w", err)
	}

	keyCols, dataCols, err := o.resolveColumns(entity, rs)
	if err != nil {
		return nil, err
	}

	summary := &Summary{DryRun: o.opts.DryRun}
	if len(rs.Rows) == 0 {
		return summary, nil
	}

	hasETags := entity.Kind().HasRowETags()
	claimed := make([]bool, len(rs.Rows))
	var trackedETags []string

	updateWriter := batch.NewWriter(o.opts.UpdateSizeBytes, o.opts.Progress)

	for start := 0; start < len(rs.Rows); start += o.opts.RowsPerQuery {
		end := start + o.opts.RowsPerQuery
		if end > len(rs.Rows) {
			end = len(rs.Rows)
		}

		patches, etags, err := o.processPage(ctx, entity, rs, keyCols, dataCols, start, end, claimed, summary)
		if err != nil {
			return nil, err
		}
		trackedETags = append(trackedETags, etags...)

		if o.opts.DryRun {
			continue
		}
		flush := func(ctx context.Context, items []batch.Sizer) error {
			return o.flushPatches(ctx, entity.ID(), items)
		}
		if err := updateWriter.Write(ctx, patches, flush); err != nil {
			return nil, err
		}
	}
	summary.UpdateBatches = updateWriter.Batches()

	if err := o.insertUnclaimed(ctx, entity, rs, dataCols, claimed, summary); err != nil {
		return nil, err
	}

	if o.opts.WaitForConsistency && hasETags && !o.opts.DryRun && len(trackedETags) > 0 {
		if err := o.waitForConsistency(ctx, entity.ID(), trackedETags); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

// StoreRows appends every source row through the bulk-row pipeline without
// matching against persisted rows. No patches are ever issued; callers that
// need update-or-insert semantics use Run.
func (o *Orchestrator) StoreRows(ctx context.Context, entity types.TableLike, source types.RowSource) (*Summary, error) {
	rs, err := source.RowSet()
	if err != nil {
		return nil, fmt.Errorf("upsert: failed to read row source: %w", err)
	}

	summary := &Summary{DryRun: o.opts.DryRun}
	if len(rs.Rows) == 0 {
		return summary, nil
	}

	tableCols := entity.Columns()
	var dataCols []*types.Column
	for _, name := range rs.Columns {
		if col, ok := tableCols.Get(name); ok {
			dataCols = append(dataCols, col)
		}
	}
	if len(dataCols) == 0 {
		return nil, errors.NewValidationError(errors.CodeMissingField,
			"no input column matches a table column")
	}

	claimed := make([]bool, len(rs.Rows))
	if err := o.insertUnclaimed(ctx, entity, rs, dataCols, claimed, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// resolveColumns validates the primary keys and splits the input header into
// key columns and diffable data columns. Input columns with no matching table
// column are ignored, not auto-added. All validation here happens before any
// query is issued.
func (o *Orchestrator) resolveColumns(entity types.TableLike, rs *types.RowSet) (keyCols, dataCols []*types.Column, err error) {
	if len(o.opts.PrimaryKeys) == 0 {
		return nil, nil, errors.NewValidationError(errors.CodeMissingField,
			"upsert requires at least one primary key column")
	}

	tableCols := entity.Columns()
	inputNames := make(map[string]bool, len(rs.Columns))
	for _, name := range rs.Columns {
		inputNames[name] = true
	}

	for _, name := range o.opts.PrimaryKeys {
		col, ok := tableCols.Get(name)
		if !ok {
			return nil, nil, errors.NewValidationError(errors.CodeMissingField,
				fmt.Sprintf("primary key column %q is not a table column", name))
		}
		if !inputNames[name] {
			return nil, nil, errors.NewValidationError(errors.CodeMissingField,
				fmt.Sprintf("primary key column %q is missing from the input data", name))
		}
		if err := codec.ValidatePrimaryKey(col); err != nil {
			return nil, nil, err
		}
		keyCols = append(keyCols, col)
	}

	for _, name := range rs.Columns {
		if col, ok := tableCols.Get(name); ok {
			dataCols = append(dataCols, col)
		}
	}
	return keyCols, dataCols, nil
}

// processPage queries the persisted rows matching one page's key values,
// matches them back to input rows, and diffs each matched pair into a patch.
func (o *Orchestrator) processPage(ctx context.Context, entity types.TableLike, rs *types.RowSet, keyCols, dataCols []*types.Column, start, end int, claimed []bool, summary *Summary) ([]batch.Sizer, []string, error) {
	hasETags := entity.Kind().HasRowETags()

	predicate, err := o.pagePredicate(rs, keyCols, start, end)
	if err != nil {
		return nil, nil, err
	}
	if predicate == "" {
		// No usable key values on this page; every row is a candidate insert.
		return nil, nil, nil
	}

	names := make([]string, len(dataCols))
	for i, col := range dataCols {
		names[i] = col.Name
	}
	sql := query.SelectColumns(entity.ID(), names, predicate)
	queryStart := time.Now()
	persisted, err := o.api.Query(ctx, sql, remote.QueryOptions{IncludeRowIDs: true, IncludeETags: hasETags})
	if err != nil {
		o.opts.Stats.Timed("candidate_query", 0, queryStart, err)
		return nil, nil, fmt.Errorf("upsert: candidate query failed: %w", err)
	}
	o.opts.Stats.Timed("candidate_query", int64(len(persisted.Rows)), queryStart, nil)

	// Index this page's input rows by their key tuple. Rows with any missing
	// key cell can never match a persisted row and stay unclaimed.
	byKey := make(map[string][]int, end-start)
	for i := start; i < end; i++ {
		key, ok, err := keyTuple(rs.Rows[i], keyCols)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			byKey[key] = append(byKey[key], i)
		}
	}

	var patches []batch.Sizer
	var etags []string

	for _, row := range persisted.Rows {
		key, ok, err := keyTuple(row, keyCols)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		matches := byKey[key]
		if len(matches) == 0 {
			continue
		}
		if len(matches) > 1 {
			return nil, nil, errors.NewValidationError(errors.CodeAmbiguousMatch,
				fmt.Sprintf("%d input rows share the key combination %s", len(matches), describeKey(row, keyCols)))
		}
		idx := matches[0]
		if claimed[idx] {
			return nil, nil, errors.NewValidationError(errors.CodeAmbiguousMatch,
				fmt.Sprintf("multiple persisted rows match the key combination %s", describeKey(row, keyCols)))
		}
		claimed[idx] = true

		changes, err := diffCells(row, rs.Rows[idx], dataCols)
		if err != nil {
			return nil, nil, err
		}
		if len(changes) == 0 {
			summary.RowsUnchanged++
			continue
		}
		summary.RowsUpdated++

		patch := types.RowPatch{RowID: row.ID, ETag: row.ETag, Changes: changes}
		data, err := json.Marshal(patch)
		if err != nil {
			return nil, nil, fmt.Errorf("upsert: failed to size patch for row %s: %w", row.ID, err)
		}
		patches = append(patches, patchItem{patch: patch, size: len(data)})
		if hasETags && row.ETag != "" {
			etags = append(etags, row.ETag)
		}
	}

	return patches, etags, nil
}

// pagePredicate builds the conjunctive key predicate for one page. Returns
// the empty string when no key column has a usable value on the page.
func (o *Orchestrator) pagePredicate(rs *types.RowSet, keyCols []*types.Column, start, end int) (string, error) {
	predicates := make([]string, 0, len(keyCols))
	for _, col := range keyCols {
		values := make([]any, 0, end-start)
		for i := start; i < end; i++ {
			values = append(values, rs.Rows[i].Values[col.Name])
		}
		pred, err := codec.BuildInPredicate(col, values)
		if err != nil {
			if errors.GetCode(err) == errors.CodeMissingField {
				return "", nil
			}
			return "", err
		}
		predicates = append(predicates, pred)
	}
	return query.And(predicates), nil
}

// diffCells compares one matched pair cell by cell. Incoming NA clears a cell
// only when the persisted value is non-null and non-empty; zero-change rows
// are excluded entirely.
func diffCells(persisted, incoming types.Row, dataCols []*types.Column) ([]types.CellChange, error) {
	var changes []types.CellChange
	for _, col := range dataCols {
		in, present := incoming.Values[col.Name]
		if !present {
			continue
		}
		old := persisted.Values[col.Name]

		if codec.IsNA(in) {
			if codec.IsNA(old) || old == "" {
				continue
			}
			changes = append(changes, types.CellChange{ColumnID: col.ID, Value: nil})
			continue
		}
		if codec.ValuesEqual(old, in, col.Type) {
			continue
		}
		value, err := codec.PatchValue(in, col.Type)
		if err != nil {
			return nil, fmt.Errorf("upsert: column %q: %w", col.Name, err)
		}
		changes = append(changes, types.CellChange{ColumnID: col.ID, Value: value})
	}
	return changes, nil
}

// keyTuple renders a row's key cells as a comparable tuple string. ok is
// false when any key cell is missing.
func keyTuple(row types.Row, keyCols []*types.Column) (string, bool, error) {
	parts := make([]string, len(keyCols))
	for i, col := range keyCols {
		v := row.Values[col.Name]
		if codec.IsNA(v) {
			return "", false, nil
		}
		s, err := codec.ScalarString(v, col.Type)
		if err != nil {
			return "", false, fmt.Errorf("upsert: key column %q: %w", col.Name, err)
		}
		parts[i] = s
	}
	return strings.Join(parts, "\x00"), true, nil
}

func describeKey(row types.Row, keyCols []*types.Column) string {
	parts := make([]string, len(keyCols))
	for i, col := range keyCols {
		parts[i] = fmt.Sprintf("%s=%v", col.Name, row.Values[col.Name])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// flushPatches submits one patch batch and awaits its job.
func (o *Orchestrator) flushPatches(ctx context.Context, entityID string, items []batch.Sizer) error {
	req := remote.RowPatchRequest{EntityID: entityID}
	for _, item := range items {
		req.Patches = append(req.Patches, item.(patchItem).patch)
	}
	start := time.Now()
	_, err := o.driver.Run(ctx, remote.JobRowPatch, entityID, &req, o.opts.JobTimeout, o.opts.Progress)
	o.opts.Stats.Timed("patch_batch", int64(len(req.Patches)), start, err)
	return err
}

// insertUnclaimed routes every input row no page claimed through the
// bulk-row pipeline: batches of encoded CSV records staged to object storage
// and applied by upload jobs.
func (o *Orchestrator) insertUnclaimed(ctx context.Context, entity types.TableLike, rs *types.RowSet, dataCols []*types.Column, claimed []bool, summary *Summary) error {
	var items []batch.Sizer
	for i, row := range rs.Rows {
		if claimed[i] {
			continue
		}
		summary.RowsInserted++
		fields, err := codec.EncodeRow(row, dataCols)
		if err != nil {
			return fmt.Errorf("upsert: failed to encode insert row %d: %w", i, err)
		}
		items = append(items, rowItem{fields: fields})
	}
	if len(items) == 0 || o.opts.DryRun {
		return nil
	}

	header := make([]string, len(dataCols))
	for i, col := range dataCols {
		header[i] = col.Name
	}

	insertWriter := batch.NewWriter(o.opts.InsertSizeBytes, o.opts.Progress)
	flush := func(ctx context.Context, batchItems []batch.Sizer) error {
		return o.flushInserts(ctx, entity.ID(), header, batchItems)
	}
	if err := insertWriter.Write(ctx, items, flush); err != nil {
		return err
	}
	summary.InsertBatches = insertWriter.Batches()
	return nil
}

// flushInserts stages one CSV payload and awaits its upload job. The staged
// object is removed once the job completes.
func (o *Orchestrator) flushInserts(ctx context.Context, entityID string, header []string, items []batch.Sizer) error {
	records := make([][]string, len(items))
	for i, item := range items {
		records[i] = item.(rowItem).fields
	}

	var buf bytes.Buffer
	if err := codec.WriteCSV(&buf, header, records); err != nil {
		return err
	}

	key := staging.NewBulkKey(entityID)
	if err := o.staging.Put(ctx, key, buf.Bytes()); err != nil {
		return errors.NewStagingError(errors.CodeStagingUpload,
			fmt.Sprintf("failed to stage bulk payload %s", key), err)
	}

	req := remote.BulkUploadRequest{EntityID: entityID, ObjectKey: key, LinesToSkip: 1}
	start := time.Now()
	_, err := o.driver.Run(ctx, remote.JobBulkUpload, entityID, &req, o.opts.JobTimeout, o.opts.Progress)
	o.opts.Stats.Timed("bulk_upload", int64(len(records)), start, err)
	if err != nil {
		return err
	}

	if err := o.staging.Delete(ctx, key); err != nil {
		// The upload already succeeded; a leaked staging object is not worth
		// failing the run over.
		log.Printf("upsert: leaked staged payload %s: %v", key, err)
	}
	return nil
}
