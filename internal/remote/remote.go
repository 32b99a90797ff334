// Package remote defines the collaborator interface to the remote tabular
// storage service and its wire contracts. The exact REST shapes are the
// server's contract and are treated as given; every component takes its
// remote handle as an explicit argument, never as ambient state.
package remote

import (
	"context"

	"github.com/tessera/tessera/pkg/types"
)

// JobKind selects the asynchronous request envelope. Each kind maps to a
// fixed URI template on the service.
type JobKind string

const (
	// JobSchemaChange applies a schema-change transaction.
	JobSchemaChange JobKind = "schemachange"

	// JobBulkUpload appends staged bulk CSV rows to a table.
	JobBulkUpload JobKind = "bulkupload"

	// JobRowPatch applies a set of partial-row patches.
	JobRowPatch JobKind = "rowpatch"
)

// QueryOptions requests row metadata alongside query results.
type QueryOptions struct {
	// IncludeRowIDs asks for ROW_ID/ROW_VERSION on each result row.
	IncludeRowIDs bool

	// IncludeETags asks for ROW_ETAG on each result row, for entity kinds
	// that carry them.
	IncludeETags bool
}

// BulkUploadRequest is the body of a JobBulkUpload submission. The CSV
// payload is staged to object storage beforehand and referenced by key.
type BulkUploadRequest struct {
	EntityID    string `json:"entity_id"`
	ObjectKey   string `json:"object_key"`
	LinesToSkip int    `json:"lines_to_skip"`
}

// BulkUploadResponse is the response body of a completed JobBulkUpload.
type BulkUploadResponse struct {
	RowsProcessed int64 `json:"rows_processed"`
}

// RowPatchRequest is the body of a JobRowPatch submission.
type RowPatchRequest struct {
	EntityID string           `json:"entity_id"`
	Patches  []types.RowPatch `json:"patches"`
}

// RowPatchResponse is the response body of a completed JobRowPatch.
type RowPatchResponse struct {
	RowsUpdated int64 `json:"rows_updated"`
}

// Remote is the full collaborator surface the sync engine consumes.
// Individual components depend on narrow subsets of it.
type Remote interface {
	// CreateEntity creates the entity and records its assigned ID and etag.
	CreateEntity(ctx context.Context, e types.TableLike) error

	// GetEntity fetches the entity's attributes into e. Columns are fetched
	// separately via GetColumns.
	GetEntity(ctx context.Context, id string, e types.TableLike) error

	// UpdateEntity updates the entity's non-row attributes.
	UpdateEntity(ctx context.Context, e types.TableLike) error

	// DeleteEntity deletes the entity.
	DeleteEntity(ctx context.Context, id string) error

	// LookupEntity resolves an entity ID by (name, parent). Returns an
	// empty string when no such entity exists.
	LookupEntity(ctx context.Context, name, parentID string) (string, error)

	// PersistColumns persists column content in one batch. Columns are
	// content-addressed on the server; the returned columns carry the
	// server-assigned IDs in input order.
	PersistColumns(ctx context.Context, cols []*types.Column) ([]*types.Column, error)

	// GetColumns returns the entity's columns in canonical order.
	GetColumns(ctx context.Context, entityID string) ([]*types.Column, error)

	// GetDefaultColumns returns the server-managed default columns for a
	// view-like kind and type mask.
	GetDefaultColumns(ctx context.Context, kind types.EntityKind, viewTypeMask int64) ([]*types.Column, error)

	// Query runs a table query and returns its tabular result.
	Query(ctx context.Context, sql string, opts QueryOptions) (*types.RowSet, error)

	// SubmitJob starts an asynchronous job and returns its ID.
	SubmitJob(ctx context.Context, kind JobKind, entityID string, body any) (string, error)

	// GetJobStatus fetches the job's current status.
	GetJobStatus(ctx context.Context, kind JobKind, entityID, jobID string) (*types.JobStatus, error)

	// StoreActivity stores a provenance-like sub-resource on the entity.
	StoreActivity(ctx context.Context, entityID string, act *types.Activity) error
}
