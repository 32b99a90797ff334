package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tessera/tessera/internal/codec"
	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/internal/staging"
	"github.com/tessera/tessera/pkg/types"
)

// Fake is an in-memory Remote used for development and tests. It implements
// the service's observable semantics: content-addressed column persistence,
// synchronous job execution, and evaluation of the engine's generated
// queries.
type Fake struct {
	mu sync.Mutex

	staging staging.ObjectStorage

	entities map[string]*fakeEntity
	columns  map[string]*types.Column
	byHash   map[string]string // column content key -> id

	defaults map[types.EntityKind][]*types.Column

	jobs    map[string]*types.JobStatus
	nextID  int
	nextJob int
	nextRow int
	nextTag int

	failNextJob  string // error message for the next submitted job, "" = none
	failActivity bool

	activities map[string]*types.Activity

	// QueryLog records every SQL string received, newest last.
	QueryLog []string
}

type fakeEntity struct {
	kind      types.EntityKind
	etag      string
	attrs     types.Attributes
	extras    map[string]any
	columnIDs []string
	rows      []*fakeRow
}

type fakeRow struct {
	id      string
	version int64
	etag    string
	values  map[string]any // keyed by column name
}

// NewFake creates an empty fake service.
func NewFake() *Fake {
	return &Fake{
		entities:   make(map[string]*fakeEntity),
		columns:    make(map[string]*types.Column),
		byHash:     make(map[string]string),
		defaults:   make(map[types.EntityKind][]*types.Column),
		jobs:       make(map[string]*types.JobStatus),
		activities: make(map[string]*types.Activity),
	}
}

// SetStaging attaches the staging storage bulk uploads are resolved against.
func (f *Fake) SetStaging(s staging.ObjectStorage) { f.staging = s }

// SetDefaultColumns registers server-managed default columns for a kind.
// The columns are persisted so they carry IDs.
func (f *Fake) SetDefaultColumns(kind types.EntityKind, cols []*types.Column) {
	persisted, _ := f.PersistColumns(context.Background(), cols)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[kind] = persisted
}

// FailNextJob makes the next submitted job reach FAILED with the given
// message.
func (f *Fake) FailNextJob(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextJob = message
}

// FailActivityStores makes StoreActivity calls fail.
func (f *Fake) FailActivityStores(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failActivity = fail
}

// RowCount returns the number of rows stored for an entity.
func (f *Fake) RowCount(entityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entities[entityID]; ok {
		return len(e.rows)
	}
	return 0
}

// Activity returns the stored activity for an entity, if any.
func (f *Fake) Activity(entityID string) *types.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activities[entityID]
}

func (f *Fake) CreateEntity(ctx context.Context, e types.TableLike) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("ent%d", f.nextID)
	fe := &fakeEntity{
		kind:      e.Kind(),
		etag:      f.newETagLocked(),
		attrs:     e.Attributes().Clone(),
		extras:    e.Extras(),
		columnIDs: e.Columns().OrderedIDs(),
	}
	f.entities[id] = fe
	e.SetID(id)
	e.SetETag(fe.etag)
	return nil
}

func (f *Fake) GetEntity(ctx context.Context, id string, e types.TableLike) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fe, ok := f.entities[id]
	if !ok {
		return errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, "entity "+id+" not found")
	}
	e.SetID(id)
	e.SetETag(fe.etag)
	e.SetAttributes(fe.attrs.Clone())
	if fe.extras != nil {
		e.ApplyExtras(fe.extras)
	}
	return nil
}

func (f *Fake) UpdateEntity(ctx context.Context, e types.TableLike) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fe, ok := f.entities[e.ID()]
	if !ok {
		return errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, "entity "+e.ID()+" not found")
	}
	fe.attrs = e.Attributes().Clone()
	fe.extras = e.Extras()
	fe.etag = f.newETagLocked()
	e.SetETag(fe.etag)
	return nil
}

func (f *Fake) DeleteEntity(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entities[id]; !ok {
		return errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, "entity "+id+" not found")
	}
	delete(f.entities, id)
	delete(f.activities, id)
	return nil
}

func (f *Fake) LookupEntity(ctx context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, fe := range f.entities {
		if fe.attrs.Name == name && fe.attrs.ParentID == parentID {
			return id, nil
		}
	}
	return "", nil
}

// PersistColumns assigns content-addressed IDs: identical content (any field
// other than the ID, the name included) reuses the existing ID, changed
// content is issued a fresh one.
func (f *Fake) PersistColumns(ctx context.Context, cols []*types.Column) ([]*types.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*types.Column, len(cols))
	for i, c := range cols {
		key := columnContentKey(c)
		id, ok := f.byHash[key]
		if !ok {
			f.nextID++
			id = fmt.Sprintf("col%d", f.nextID)
			f.byHash[key] = id
		}
		persisted := c.Clone()
		persisted.ID = id
		f.columns[id] = persisted
		out[i] = persisted
	}
	return out, nil
}

func columnContentKey(c *types.Column) string {
	cp := c.Clone()
	cp.ID = ""
	data, _ := json.Marshal(cp)
	return string(data)
}

func (f *Fake) GetColumns(ctx context.Context, entityID string) ([]*types.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fe, ok := f.entities[entityID]
	if !ok {
		return nil, errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, "entity "+entityID+" not found")
	}
	cols := make([]*types.Column, 0, len(fe.columnIDs))
	for _, id := range fe.columnIDs {
		if c, ok := f.columns[id]; ok {
			cols = append(cols, c.Clone())
		}
	}
	return cols, nil
}

func (f *Fake) GetDefaultColumns(ctx context.Context, kind types.EntityKind, viewTypeMask int64) ([]*types.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cols := f.defaults[kind]
	out := make([]*types.Column, len(cols))
	for i, c := range cols {
		out[i] = c.Clone()
	}
	return out, nil
}

func (f *Fake) SubmitJob(ctx context.Context, kind JobKind, entityID string, body any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextJob++
	jobID := fmt.Sprintf("job%d", f.nextJob)
	status := &types.JobStatus{ID: jobID, State: types.JobStateProcessing}
	f.jobs[jobID] = status

	if f.failNextJob != "" {
		status.State = types.JobStateFailed
		status.ErrorMessage = f.failNextJob
		status.ErrorDetails = "injected failure"
		f.failNextJob = ""
		return jobID, nil
	}

	if err := f.runJobLocked(ctx, kind, entityID, body, status); err != nil {
		status.State = types.JobStateFailed
		status.ErrorMessage = err.Error()
		return jobID, nil
	}
	status.State = types.JobStateComplete
	return jobID, nil
}

func (f *Fake) runJobLocked(ctx context.Context, kind JobKind, entityID string, body any, status *types.JobStatus) error {
	fe, ok := f.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %s not found", entityID)
	}

	switch kind {
	case JobSchemaChange:
		txn, ok := body.(*types.SchemaChangeTransaction)
		if !ok {
			return fmt.Errorf("bad schema change body %T", body)
		}
		for _, id := range txn.OrderedColumnIDs {
			if _, ok := f.columns[id]; !ok {
				return fmt.Errorf("unknown column id %s", id)
			}
		}
		fe.columnIDs = append([]string(nil), txn.OrderedColumnIDs...)
		fe.etag = f.newETagLocked()
		return nil

	case JobBulkUpload:
		req, ok := body.(*BulkUploadRequest)
		if !ok {
			return fmt.Errorf("bad bulk upload body %T", body)
		}
		if f.staging == nil {
			return fmt.Errorf("no staging storage attached")
		}
		data, err := f.staging.Get(ctx, req.ObjectKey)
		if err != nil {
			return fmt.Errorf("staged object %s: %v", req.ObjectKey, err)
		}
		rs, err := types.ReadCSV(bytes.NewReader(data))
		if err != nil {
			return err
		}
		for _, row := range rs.Rows {
			f.nextRow++
			f.nextTag++
			fr := &fakeRow{
				id:     fmt.Sprintf("%d", f.nextRow),
				etag:   fmt.Sprintf("etag%d", f.nextTag),
				values: row.Values,
			}
			fe.rows = append(fe.rows, fr)
		}
		resp, _ := json.Marshal(BulkUploadResponse{RowsProcessed: int64(len(rs.Rows))})
		status.ResponseBody = resp
		return nil

	case JobRowPatch:
		req, ok := body.(*RowPatchRequest)
		if !ok {
			return fmt.Errorf("bad row patch body %T", body)
		}
		for _, patch := range req.Patches {
			row := f.findRowLocked(fe, patch.RowID)
			if row == nil {
				return fmt.Errorf("row %s not found", patch.RowID)
			}
			for _, ch := range patch.Changes {
				col, ok := f.columns[ch.ColumnID]
				if !ok {
					return fmt.Errorf("unknown column id %s", ch.ColumnID)
				}
				if ch.Value == nil {
					row.values[col.Name] = nil
					continue
				}
				row.values[col.Name] = ch.Value
			}
			// The row etag identifies the row for consistency probes and is
			// stable across patches; only the version advances.
			row.version++
		}
		resp, _ := json.Marshal(RowPatchResponse{RowsUpdated: int64(len(req.Patches))})
		status.ResponseBody = resp
		return nil

	default:
		return fmt.Errorf("unknown job kind %s", kind)
	}
}

func (f *Fake) findRowLocked(fe *fakeEntity, rowID string) *fakeRow {
	for _, r := range fe.rows {
		if r.id == rowID {
			return r
		}
	}
	return nil
}

func (f *Fake) GetJobStatus(ctx context.Context, kind JobKind, entityID, jobID string) (*types.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	status, ok := f.jobs[jobID]
	if !ok {
		return nil, errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, "job "+jobID+" not found")
	}
	cp := *status
	return &cp, nil
}

func (f *Fake) StoreActivity(ctx context.Context, entityID string, act *types.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failActivity {
		return errors.NewRemoteError(500, "activity store rejected", nil)
	}
	if _, ok := f.entities[entityID]; !ok {
		return errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, "entity "+entityID+" not found")
	}
	f.activities[entityID] = act
	return nil
}

// Query evaluates the two query shapes the engine generates: a column
// select with conjunctive IN predicates, and the ROW_ETAG visibility probe.
func (f *Fake) Query(ctx context.Context, sql string, opts QueryOptions) (*types.RowSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.QueryLog = append(f.QueryLog, sql)

	selectList, entityID, predicate, err := splitQuery(sql)
	if err != nil {
		return nil, errors.NewRemoteError(400, err.Error(), nil)
	}
	fe, ok := f.entities[entityID]
	if !ok {
		return nil, errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, "entity "+entityID+" not found")
	}

	preds, err := parsePredicates(predicate)
	if err != nil {
		return nil, errors.NewRemoteError(400, err.Error(), nil)
	}

	colTypes := make(map[string]types.ColumnType)
	for _, id := range fe.columnIDs {
		if c, ok := f.columns[id]; ok {
			colTypes[c.Name] = c.Type
		}
	}

	var dataCols []string
	for _, item := range selectList {
		if item != "ROW_ID" && item != "ROW_ETAG" {
			dataCols = append(dataCols, item)
		}
	}

	result := &types.RowSet{Columns: dataCols}
	for _, row := range fe.rows {
		if !matchRow(row, preds, colTypes) {
			continue
		}
		out := types.Row{Values: make(map[string]any, len(dataCols))}
		for _, name := range dataCols {
			out.Values[name] = row.values[name]
		}
		if opts.IncludeRowIDs {
			out.ID = row.id
			out.Version = row.version
		}
		if opts.IncludeETags {
			out.ETag = row.etag
		}
		result.Rows = append(result.Rows, out)
	}
	return result, nil
}

// inPredicate is one parsed `col IN (...)` term.
type inPredicate struct {
	column   string
	literals []string // unquoted string forms
	quoted   []bool
}

func splitQuery(sql string) (selectList []string, entityID, predicate string, err error) {
	if !strings.HasPrefix(sql, "SELECT ") {
		return nil, "", "", fmt.Errorf("unsupported query: %s", sql)
	}
	rest := sql[len("SELECT "):]
	fromIdx := strings.Index(rest, " FROM ")
	if fromIdx < 0 {
		return nil, "", "", fmt.Errorf("unsupported query: %s", sql)
	}
	for _, item := range strings.Split(rest[:fromIdx], ",") {
		item = strings.TrimSpace(item)
		item = strings.Trim(item, `"`)
		selectList = append(selectList, item)
	}
	rest = rest[fromIdx+len(" FROM "):]
	if whereIdx := strings.Index(rest, " WHERE "); whereIdx >= 0 {
		entityID = strings.TrimSpace(rest[:whereIdx])
		predicate = strings.TrimSpace(rest[whereIdx+len(" WHERE "):])
	} else {
		entityID = strings.TrimSpace(rest)
	}
	return selectList, entityID, predicate, nil
}

func parsePredicates(predicate string) ([]inPredicate, error) {
	if predicate == "" {
		return nil, nil
	}
	var terms []string
	if strings.HasPrefix(predicate, "(") {
		trimmed := strings.TrimPrefix(predicate, "(")
		trimmed = strings.TrimSuffix(trimmed, ")")
		terms = strings.Split(trimmed, ") AND (")
	} else {
		terms = []string{predicate}
	}

	preds := make([]inPredicate, 0, len(terms))
	for _, term := range terms {
		inIdx := strings.Index(term, " IN (")
		if inIdx < 0 || !strings.HasSuffix(term, ")") {
			return nil, fmt.Errorf("unsupported predicate: %s", term)
		}
		col := strings.Trim(strings.TrimSpace(term[:inIdx]), `"`)
		body := term[inIdx+len(" IN (") : len(term)-1]
		lits, quoted, err := parseLiterals(body)
		if err != nil {
			return nil, err
		}
		preds = append(preds, inPredicate{column: col, literals: lits, quoted: quoted})
	}
	return preds, nil
}

// parseLiterals splits a comma-separated literal list, honoring single
// quotes with '' escapes.
func parseLiterals(body string) ([]string, []bool, error) {
	var lits []string
	var quoted []bool
	i := 0
	for i < len(body) {
		if body[i] == ',' {
			i++
			continue
		}
		if body[i] == '\'' {
			var sb strings.Builder
			i++
			for i < len(body) {
				if body[i] == '\'' {
					if i+1 < len(body) && body[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteByte(body[i])
				i++
			}
			lits = append(lits, sb.String())
			quoted = append(quoted, true)
			continue
		}
		end := strings.IndexByte(body[i:], ',')
		if end < 0 {
			end = len(body)
		} else {
			end += i
		}
		lits = append(lits, strings.TrimSpace(body[i:end]))
		quoted = append(quoted, false)
		i = end
	}
	if len(lits) == 0 {
		return nil, nil, fmt.Errorf("empty literal list")
	}
	return lits, quoted, nil
}

func matchRow(row *fakeRow, preds []inPredicate, colTypes map[string]types.ColumnType) bool {
	for _, p := range preds {
		if p.column == "ROW_ETAG" {
			if !containsString(p.literals, row.etag) {
				return false
			}
			continue
		}
		if p.column == "ROW_ID" {
			if !containsString(p.literals, row.id) {
				return false
			}
			continue
		}

		v, ok := row.values[p.column]
		if !ok || v == nil {
			return false
		}
		t, ok := colTypes[p.column]
		if !ok {
			return false
		}
		s, err := codec.ScalarString(v, t)
		if err != nil {
			return false
		}
		if !containsString(p.literals, s) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (f *Fake) newETagLocked() string {
	f.nextTag++
	return fmt.Sprintf("etag%d", f.nextTag)
}
