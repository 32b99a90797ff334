package types

// EntityKind identifies a table-like entity kind on the remote service.
type EntityKind string

const (
	KindTable            EntityKind = "table"
	KindView             EntityKind = "view"
	KindDataset          EntityKind = "dataset"
	KindMaterializedView EntityKind = "materializedview"
	KindVirtualTable     EntityKind = "virtualtable"
)

// ViewLike reports whether the kind auto-merges server-managed default
// columns into its schema by name.
func (k EntityKind) ViewLike() bool {
	return k == KindView || k == KindDataset
}

// HasRowETags reports whether rows of the kind carry etags used for
// eventual-consistency waiting.
func (k EntityKind) HasRowETags() bool {
	return k == KindView || k == KindDataset
}

// Attributes are the non-row attributes of a table-like entity.
type Attributes struct {
	// Name is the entity display name, unique within its parent.
	Name string `json:"name"`

	// ParentID is the containing project or folder.
	ParentID string `json:"parent_id"`

	// Description is free-form text.
	Description string `json:"description,omitempty"`

	// Annotations are arbitrary caller-managed key/value pairs.
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Equal reports whether two attribute sets are the same, annotations
// compared by shallow value equality.
func (a Attributes) Equal(b Attributes) bool {
	if a.Name != b.Name || a.ParentID != b.ParentID || a.Description != b.Description {
		return false
	}
	if len(a.Annotations) != len(b.Annotations) {
		return false
	}
	for k, v := range a.Annotations {
		if bv, ok := b.Annotations[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Clone returns a copy with its own annotation map.
func (a Attributes) Clone() Attributes {
	cp := a
	if a.Annotations != nil {
		cp.Annotations = make(map[string]any, len(a.Annotations))
		for k, v := range a.Annotations {
			cp.Annotations[k] = v
		}
	}
	return cp
}

// Snapshot is the last-known-persisted state of an entity, used as the
// "previous" side of schema diffs. It is mutated only by the store
// coordinator and only after a successful remote round-trip.
type Snapshot struct {
	// ETag is the entity etag at snapshot time.
	ETag string `json:"etag,omitempty"`

	// Attributes are the persisted non-row attributes.
	Attributes Attributes `json:"attributes"`

	// Columns are the persisted columns, with server-assigned IDs, in
	// canonical order.
	Columns *ColumnSet `json:"-"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{
		ETag:       s.ETag,
		Attributes: s.Attributes.Clone(),
		Columns:    s.Columns.Clone(),
	}
}

// Activity is an opaque provenance-like sub-resource attached to an entity.
// Failures storing it propagate; this engine never interprets its contents.
type Activity struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Used        []string       `json:"used,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// TableLike is the capability interface every table-like entity kind
// implements. The diff, store, query, and upsert components operate
// generically over it; shared behavior is composed by embedding TableBase,
// not by inheritance.
type TableLike interface {
	// ID returns the server-assigned entity ID, empty before first persist.
	ID() string
	// SetID records the server-assigned entity ID.
	SetID(id string)
	// ETag returns the entity etag from the last fetch.
	ETag() string
	// SetETag records the entity etag.
	SetETag(etag string)
	// Kind returns the entity kind.
	Kind() EntityKind
	// Attributes returns the desired non-row attributes.
	Attributes() Attributes
	// SetAttributes replaces the desired non-row attributes.
	SetAttributes(a Attributes)
	// Columns returns the desired column set.
	Columns() *ColumnSet
	// SetColumns replaces the desired column set.
	SetColumns(s *ColumnSet)
	// ViewTypeMask declares which server-managed default columns apply.
	// Zero for non-view-like kinds.
	ViewTypeMask() int64
	// Extras returns kind-specific wire fields (view scope, defining SQL).
	Extras() map[string]any
	// ApplyExtras merges kind-specific wire fields fetched from the remote.
	ApplyExtras(extras map[string]any)
	// LastPersisted returns the last-persisted snapshot, nil before the
	// entity has ever been stored or fetched.
	LastPersisted() *Snapshot
	// SetLastPersisted replaces the last-persisted snapshot.
	SetLastPersisted(s *Snapshot)
}

// TableBase carries the TableLike plumbing shared by all entity kinds.
type TableBase struct {
	id            string
	etag          string
	attrs         Attributes
	cols          *ColumnSet
	lastPersisted *Snapshot
}

func (b *TableBase) ID() string                   { return b.id }
func (b *TableBase) SetID(id string)              { b.id = id }
func (b *TableBase) ETag() string                 { return b.etag }
func (b *TableBase) SetETag(etag string)          { b.etag = etag }
func (b *TableBase) Attributes() Attributes       { return b.attrs }
func (b *TableBase) SetAttributes(a Attributes)   { b.attrs = a }
func (b *TableBase) Columns() *ColumnSet          { return b.cols }
func (b *TableBase) SetColumns(s *ColumnSet)      { b.cols = s }
func (b *TableBase) ViewTypeMask() int64          { return 0 }
func (b *TableBase) Extras() map[string]any       { return nil }
func (b *TableBase) ApplyExtras(map[string]any)   {}
func (b *TableBase) LastPersisted() *Snapshot     { return b.lastPersisted }
func (b *TableBase) SetLastPersisted(s *Snapshot) { b.lastPersisted = s }

// Table is a plain stored table.
type Table struct {
	TableBase
}

// NewTable creates an unpersisted table under the given parent.
func NewTable(name, parentID string) *Table {
	t := &Table{}
	t.SetAttributes(Attributes{Name: name, ParentID: parentID})
	t.SetColumns(&ColumnSet{})
	return t
}

func (t *Table) Kind() EntityKind { return KindTable }

// View is a query-defined projection over a scope of entities. View-like:
// the server manages a set of default columns selected by the type mask.
type View struct {
	TableBase

	// ScopeIDs are the container entities the view spans.
	ScopeIDs []string

	// Mask selects which server-managed default columns apply.
	Mask int64
}

// NewView creates an unpersisted view over the given scope.
func NewView(name, parentID string, mask int64, scopeIDs ...string) *View {
	v := &View{ScopeIDs: scopeIDs, Mask: mask}
	v.SetAttributes(Attributes{Name: name, ParentID: parentID})
	v.SetColumns(&ColumnSet{})
	return v
}

func (v *View) Kind() EntityKind    { return KindView }
func (v *View) ViewTypeMask() int64 { return v.Mask }

func (v *View) Extras() map[string]any {
	return map[string]any{"scope_ids": v.ScopeIDs, "view_type_mask": v.Mask}
}

func (v *View) ApplyExtras(extras map[string]any) {
	if ids, ok := extras["scope_ids"].([]any); ok {
		v.ScopeIDs = v.ScopeIDs[:0]
		for _, id := range ids {
			if s, ok := id.(string); ok {
				v.ScopeIDs = append(v.ScopeIDs, s)
			}
		}
	}
	if mask, ok := extras["view_type_mask"].(float64); ok {
		v.Mask = int64(mask)
	}
}

// DatasetItem pins one entity version into a dataset.
type DatasetItem struct {
	EntityID string `json:"entity_id"`
	Version  int64  `json:"version"`
}

// Dataset is a curated, versioned collection of entities. View-like.
type Dataset struct {
	TableBase

	// Items are the pinned entity versions the dataset contains.
	Items []DatasetItem

	// Mask selects which server-managed default columns apply.
	Mask int64
}

// NewDataset creates an unpersisted dataset.
func NewDataset(name, parentID string, mask int64, items ...DatasetItem) *Dataset {
	d := &Dataset{Items: items, Mask: mask}
	d.SetAttributes(Attributes{Name: name, ParentID: parentID})
	d.SetColumns(&ColumnSet{})
	return d
}

func (d *Dataset) Kind() EntityKind    { return KindDataset }
func (d *Dataset) ViewTypeMask() int64 { return d.Mask }

func (d *Dataset) Extras() map[string]any {
	items := make([]any, len(d.Items))
	for i, it := range d.Items {
		items[i] = map[string]any{"entity_id": it.EntityID, "version": it.Version}
	}
	return map[string]any{"items": items, "view_type_mask": d.Mask}
}

func (d *Dataset) ApplyExtras(extras map[string]any) {
	if mask, ok := extras["view_type_mask"].(float64); ok {
		d.Mask = int64(mask)
	}
	items, ok := extras["items"].([]any)
	if !ok {
		return
	}
	d.Items = d.Items[:0]
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		it := DatasetItem{}
		if id, ok := m["entity_id"].(string); ok {
			it.EntityID = id
		}
		if v, ok := m["version"].(float64); ok {
			it.Version = int64(v)
		}
		d.Items = append(d.Items, it)
	}
}

// MaterializedView is a periodically refreshed table defined by SQL. Its
// content is eventually consistent with its sources.
type MaterializedView struct {
	TableBase

	// DefiningSQL is the query that materializes the view.
	DefiningSQL string
}

// NewMaterializedView creates an unpersisted materialized view.
func NewMaterializedView(name, parentID, definingSQL string) *MaterializedView {
	m := &MaterializedView{DefiningSQL: definingSQL}
	m.SetAttributes(Attributes{Name: name, ParentID: parentID})
	m.SetColumns(&ColumnSet{})
	return m
}

func (m *MaterializedView) Kind() EntityKind { return KindMaterializedView }

func (m *MaterializedView) Extras() map[string]any {
	return map[string]any{"defining_sql": m.DefiningSQL}
}

func (m *MaterializedView) ApplyExtras(extras map[string]any) {
	if sql, ok := extras["defining_sql"].(string); ok {
		m.DefiningSQL = sql
	}
}

// VirtualTable is a SQL-defined table evaluated at query time.
type VirtualTable struct {
	TableBase

	// DefiningSQL is the query the table evaluates to.
	DefiningSQL string
}

// NewVirtualTable creates an unpersisted virtual table.
func NewVirtualTable(name, parentID, definingSQL string) *VirtualTable {
	v := &VirtualTable{DefiningSQL: definingSQL}
	v.SetAttributes(Attributes{Name: name, ParentID: parentID})
	v.SetColumns(&ColumnSet{})
	return v
}

func (v *VirtualTable) Kind() EntityKind { return KindVirtualTable }

func (v *VirtualTable) Extras() map[string]any {
	return map[string]any{"defining_sql": v.DefiningSQL}
}

func (v *VirtualTable) ApplyExtras(extras map[string]any) {
	if sql, ok := extras["defining_sql"].(string); ok {
		v.DefiningSQL = sql
	}
}
