// Package store coordinates the full persistence lifecycle of a table-like
// entity: resolving it on the remote, merging server-managed defaults,
// validating and diffing its schema, driving the schema-change job, and
// recording the resulting state as the new last-persisted snapshot.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/internal/jobs"
	"github.com/tessera/tessera/internal/observability"
	"github.com/tessera/tessera/internal/remote"
	"github.com/tessera/tessera/internal/schema"
	"github.com/tessera/tessera/internal/snapshot"
	"github.com/tessera/tessera/pkg/types"
)

// Options tunes the coordinator.
type Options struct {
	// JobTimeout is the stall deadline for schema-change jobs.
	JobTimeout time.Duration

	// PollInterval is the sleep between job polls.
	PollInterval time.Duration

	// Progress receives job progress reports.
	Progress types.ProgressFunc

	// Stats receives per-operation timing records. May be nil.
	Stats *observability.SyncStats
}

func (o Options) withDefaults() Options {
	if o.JobTimeout <= 0 {
		o.JobTimeout = 600 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// StoreOptions tunes one Store call.
type StoreOptions struct {
	// DryRun performs all local computation and remote reads but issues no
	// remote writes, logging the intended changes instead.
	DryRun bool

	// Activity is an optional provenance sub-resource stored alongside the
	// entity. A failed activity store aborts the whole call.
	Activity *types.Activity
}

// Coordinator drives entity persistence against one remote handle. The
// snapshot store is optional; without it, last-persisted state lives only in
// memory on the entity itself.
type Coordinator struct {
	remote remote.Remote
	driver *jobs.Driver
	snaps  *snapshot.Store
	opts   Options
}

// New creates a coordinator. snaps may be nil.
func New(r remote.Remote, snaps *snapshot.Store, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		remote: r,
		driver: jobs.NewDriver(r, opts.PollInterval),
		snaps:  snaps,
		opts:   opts,
	}
}

// Store persists the entity's desired state: attributes, schema, and any
// attached sub-resources. On return the entity carries its server-assigned
// ID, etag, reconciled columns, and a fresh last-persisted snapshot.
func (c *Coordinator) Store(ctx context.Context, e types.TableLike, opts StoreOptions) error {
	if err := c.resolve(ctx, e); err != nil {
		return err
	}

	if e.Kind().ViewLike() {
		defaults, err := c.remote.GetDefaultColumns(ctx, e.Kind(), e.ViewTypeMask())
		if err != nil {
			return fmt.Errorf("store: failed to fetch default columns: %w", err)
		}
		e.SetColumns(schema.MergeDefaultColumns(e.Columns(), defaults))
	}

	if err := schema.ValidateColumnNames(e.Columns()); err != nil {
		return err
	}

	if err := c.storeAttributes(ctx, e, opts.DryRun); err != nil {
		return err
	}

	if err := c.storeSchema(ctx, e, opts.DryRun); err != nil {
		return err
	}

	if opts.Activity != nil && !opts.DryRun {
		if err := c.remote.StoreActivity(ctx, e.ID(), opts.Activity); err != nil {
			return fmt.Errorf("store: failed to store activity: %w", err)
		}
	}

	if opts.DryRun {
		return nil
	}
	return c.recordSnapshot(ctx, e)
}

// resolve establishes the entity's identity and previous persisted state.
// An entity with no ID and no snapshot is resolved by (name, parent) so
// re-running "create" against an existing name updates instead of
// duplicating. An entity with an ID but no snapshot loads its previous state
// from the local snapshot store, falling back to a remote fetch.
func (c *Coordinator) resolve(ctx context.Context, e types.TableLike) error {
	if e.LastPersisted() != nil {
		return nil
	}

	if e.ID() == "" {
		attrs := e.Attributes()
		if attrs.Name == "" || attrs.ParentID == "" {
			return errors.NewValidationError(errors.CodeMissingField,
				"entity has no id and no (name, parent) to resolve one")
		}
		id, err := c.remote.LookupEntity(ctx, attrs.Name, attrs.ParentID)
		if err != nil {
			return fmt.Errorf("store: failed to resolve entity by name: %w", err)
		}
		if id == "" {
			// Nothing persisted yet; the attribute step will create it.
			return nil
		}
		e.SetID(id)
	}

	if c.snaps != nil {
		snap, err := c.snaps.Load(ctx, e.ID())
		if err != nil {
			return err
		}
		if snap != nil {
			e.SetLastPersisted(snap)
			return nil
		}
	}
	return c.fetchPersisted(ctx, e)
}

// fetchPersisted pulls the remote's current view of the entity into the
// last-persisted snapshot without disturbing the desired state.
func (c *Coordinator) fetchPersisted(ctx context.Context, e types.TableLike) error {
	desired := e.Attributes()
	desiredCols := e.Columns()

	if err := c.remote.GetEntity(ctx, e.ID(), e); err != nil {
		return fmt.Errorf("store: failed to fetch entity %s: %w", e.ID(), err)
	}
	cols, err := c.remote.GetColumns(ctx, e.ID())
	if err != nil {
		return fmt.Errorf("store: failed to fetch columns for %s: %w", e.ID(), err)
	}
	persistedCols, err := types.NewColumnSet(cols...)
	if err != nil {
		return fmt.Errorf("store: remote returned invalid column set: %w", err)
	}

	e.SetLastPersisted(&types.Snapshot{
		ETag:       e.ETag(),
		Attributes: e.Attributes().Clone(),
		Columns:    persistedCols,
	})

	// The fetch overwrote the desired state; restore it. Server-assigned
	// identity (id, etag, extras) keeps the fetched values.
	e.SetAttributes(desired)
	e.SetColumns(desiredCols)
	return nil
}

// storeAttributes creates the entity or updates its non-row attributes when
// they differ from the last-persisted snapshot.
func (c *Coordinator) storeAttributes(ctx context.Context, e types.TableLike, dryRun bool) error {
	prev := e.LastPersisted()

	if prev == nil {
		if dryRun {
			log.Printf("store: dry run: would create %s %q under %s",
				e.Kind(), e.Attributes().Name, e.Attributes().ParentID)
			return nil
		}
		if err := c.remote.CreateEntity(ctx, e); err != nil {
			return fmt.Errorf("store: failed to create entity: %w", err)
		}
		return nil
	}

	if e.Attributes().Equal(prev.Attributes) {
		return nil
	}
	if dryRun {
		log.Printf("store: dry run: would update attributes of %s (name %q -> %q)",
			e.ID(), prev.Attributes.Name, e.Attributes().Name)
		return nil
	}
	if err := c.remote.UpdateEntity(ctx, e); err != nil {
		return fmt.Errorf("store: failed to update entity %s: %w", e.ID(), err)
	}
	return nil
}

// storeSchema computes and applies the schema-change transaction, then
// re-fetches the column list: a schema change may alter server-assigned IDs,
// and view-like kinds may legitimately drop or rename columns in ways the
// client must reconcile.
func (c *Coordinator) storeSchema(ctx context.Context, e types.TableLike, dryRun bool) error {
	prev := &types.ColumnSet{}
	if snap := e.LastPersisted(); snap != nil && snap.Columns != nil {
		prev = snap.Columns
	}

	marked := markedForDeletion(prev, e.Columns())

	if dryRun {
		logSchemaDryRun(e, prev, marked)
		return nil
	}

	txn, err := schema.Diff(ctx, e.ID(), prev, e.Columns(), marked, c.remote.PersistColumns)
	if err != nil {
		return err
	}
	if txn == nil {
		return nil
	}

	start := time.Now()
	_, err = c.driver.Run(ctx, remote.JobSchemaChange, e.ID(), txn, c.opts.JobTimeout, c.opts.Progress)
	c.opts.Stats.Timed("schema_change", int64(len(txn.Added)+len(txn.Removed)), start, err)
	if err != nil {
		return err
	}

	cols, err := c.remote.GetColumns(ctx, e.ID())
	if err != nil {
		return fmt.Errorf("store: failed to re-fetch columns for %s: %w", e.ID(), err)
	}
	reconciled, err := types.NewColumnSet(cols...)
	if err != nil {
		return fmt.Errorf("store: remote returned invalid column set: %w", err)
	}
	e.SetColumns(reconciled)
	return nil
}

// markedForDeletion names every previously persisted column absent from the
// desired set.
func markedForDeletion(prev, desired *types.ColumnSet) map[string]bool {
	marked := make(map[string]bool)
	for _, col := range prev.Columns() {
		if _, ok := desired.Get(col.Name); !ok {
			marked[col.Name] = true
		}
	}
	return marked
}

// logSchemaDryRun summarizes the would-be schema change without persisting
// any column content.
func logSchemaDryRun(e types.TableLike, prev *types.ColumnSet, marked map[string]bool) {
	var added, changed int
	for _, col := range e.Columns().Columns() {
		prevCol, existed := prev.Get(col.Name)
		switch {
		case !existed:
			added++
		case schema.ContentHash(col) != schema.ContentHash(prevCol):
			changed++
		}
	}
	if added == 0 && changed == 0 && len(marked) == 0 {
		log.Printf("store: dry run: schema of %s is unchanged", e.ID())
		return
	}
	log.Printf("store: dry run: would change schema of %s: %d added, %d modified, %d removed",
		e.ID(), added, changed, len(marked))
}

// recordSnapshot captures the now-current state for future diffing, writing
// through to the local snapshot store when one is configured.
func (c *Coordinator) recordSnapshot(ctx context.Context, e types.TableLike) error {
	snap := &types.Snapshot{
		ETag:       e.ETag(),
		Attributes: e.Attributes().Clone(),
		Columns:    e.Columns().Clone(),
	}
	e.SetLastPersisted(snap)
	if c.snaps == nil {
		return nil
	}
	if err := c.snaps.Save(ctx, e.ID(), e.Kind(), snap); err != nil {
		return err
	}
	return nil
}

// Get fetches the entity's current remote state, including columns, and
// seeds its last-persisted snapshot.
func (c *Coordinator) Get(ctx context.Context, id string, e types.TableLike) error {
	if id == "" {
		return errors.NewValidationError(errors.CodeMissingField, "entity id is required")
	}
	if err := c.remote.GetEntity(ctx, id, e); err != nil {
		return fmt.Errorf("store: failed to fetch entity %s: %w", id, err)
	}
	cols, err := c.remote.GetColumns(ctx, id)
	if err != nil {
		return fmt.Errorf("store: failed to fetch columns for %s: %w", id, err)
	}
	set, err := types.NewColumnSet(cols...)
	if err != nil {
		return fmt.Errorf("store: remote returned invalid column set: %w", err)
	}
	e.SetColumns(set)
	return c.recordSnapshot(ctx, e)
}

// Delete removes the entity and its local snapshot.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.NewValidationError(errors.CodeMissingField, "entity id is required")
	}
	if err := c.remote.DeleteEntity(ctx, id); err != nil {
		return fmt.Errorf("store: failed to delete entity %s: %w", id, err)
	}
	if c.snaps != nil {
		if err := c.snaps.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
