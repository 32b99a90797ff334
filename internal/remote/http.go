package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/pkg/types"
)

// HTTPClient implements Remote against the service's JSON REST surface.
type HTTPClient struct {
	base   string
	client *http.Client
}

// NewHTTPClient creates a client for the given base endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(endpoint, "/"),
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// NewHTTPClientWith uses a pre-configured http.Client (custom transport,
// test server).
func NewHTTPClientWith(endpoint string, client *http.Client) *HTTPClient {
	return &HTTPClient{base: strings.TrimRight(endpoint, "/"), client: client}
}

// wireEntity is the JSON shape of a table-like entity on the wire.
type wireEntity struct {
	ID          string         `json:"id,omitempty"`
	ETag        string         `json:"etag,omitempty"`
	Kind        string         `json:"kind"`
	Name        string         `json:"name"`
	ParentID    string         `json:"parent_id"`
	Description string         `json:"description,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
	ColumnIDs   []string       `json:"column_ids,omitempty"`
	Extras      map[string]any `json:"extras,omitempty"`
}

func toWire(e types.TableLike) *wireEntity {
	attrs := e.Attributes()
	return &wireEntity{
		ID:          e.ID(),
		ETag:        e.ETag(),
		Kind:        string(e.Kind()),
		Name:        attrs.Name,
		ParentID:    attrs.ParentID,
		Description: attrs.Description,
		Annotations: attrs.Annotations,
		ColumnIDs:   e.Columns().OrderedIDs(),
		Extras:      e.Extras(),
	}
}

func fromWire(w *wireEntity, e types.TableLike) {
	e.SetID(w.ID)
	e.SetETag(w.ETag)
	e.SetAttributes(types.Attributes{
		Name:        w.Name,
		ParentID:    w.ParentID,
		Description: w.Description,
		Annotations: w.Annotations,
	})
	if w.Extras != nil {
		e.ApplyExtras(w.Extras)
	}
}

// CreateEntity creates the entity and records its assigned ID and etag.
func (c *HTTPClient) CreateEntity(ctx context.Context, e types.TableLike) error {
	var resp wireEntity
	if err := c.do(ctx, http.MethodPost, "/entity", toWire(e), &resp); err != nil {
		return err
	}
	e.SetID(resp.ID)
	e.SetETag(resp.ETag)
	return nil
}

// GetEntity fetches the entity's attributes into e.
func (c *HTTPClient) GetEntity(ctx context.Context, id string, e types.TableLike) error {
	var resp wireEntity
	if err := c.do(ctx, http.MethodGet, "/entity/"+url.PathEscape(id), nil, &resp); err != nil {
		return err
	}
	fromWire(&resp, e)
	return nil
}

// UpdateEntity updates the entity's non-row attributes.
func (c *HTTPClient) UpdateEntity(ctx context.Context, e types.TableLike) error {
	var resp wireEntity
	if err := c.do(ctx, http.MethodPut, "/entity/"+url.PathEscape(e.ID()), toWire(e), &resp); err != nil {
		return err
	}
	e.SetETag(resp.ETag)
	return nil
}

// DeleteEntity deletes the entity.
func (c *HTTPClient) DeleteEntity(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/entity/"+url.PathEscape(id), nil, nil)
}

// LookupEntity resolves an entity ID by (name, parent).
func (c *HTTPClient) LookupEntity(ctx context.Context, name, parentID string) (string, error) {
	q := url.Values{"name": {name}, "parent_id": {parentID}}
	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodGet, "/entity/lookup?"+q.Encode(), nil, &resp)
	if err != nil {
		if errors.GetCode(err) == errors.CodeNotFound {
			return "", nil
		}
		return "", err
	}
	return resp.ID, nil
}

// PersistColumns persists column content in one batch.
func (c *HTTPClient) PersistColumns(ctx context.Context, cols []*types.Column) ([]*types.Column, error) {
	req := struct {
		Columns []*types.Column `json:"columns"`
	}{Columns: cols}
	var resp struct {
		Columns []*types.Column `json:"columns"`
	}
	if err := c.do(ctx, http.MethodPost, "/column/batch", req, &resp); err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

// GetColumns returns the entity's columns in canonical order.
func (c *HTTPClient) GetColumns(ctx context.Context, entityID string) ([]*types.Column, error) {
	var resp struct {
		Columns []*types.Column `json:"columns"`
	}
	if err := c.do(ctx, http.MethodGet, "/entity/"+url.PathEscape(entityID)+"/column", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

// GetDefaultColumns returns the server-managed default columns for a
// view-like kind and type mask.
func (c *HTTPClient) GetDefaultColumns(ctx context.Context, kind types.EntityKind, viewTypeMask int64) ([]*types.Column, error) {
	var resp struct {
		Columns []*types.Column `json:"columns"`
	}
	path := fmt.Sprintf("/column/default/%s?mask=%d", url.PathEscape(string(kind)), viewTypeMask)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

// Query runs a table query and returns its tabular result.
func (c *HTTPClient) Query(ctx context.Context, sql string, opts QueryOptions) (*types.RowSet, error) {
	req := struct {
		SQL           string `json:"sql"`
		IncludeRowIDs bool   `json:"include_row_ids"`
		IncludeETags  bool   `json:"include_etags"`
	}{SQL: sql, IncludeRowIDs: opts.IncludeRowIDs, IncludeETags: opts.IncludeETags}

	var resp types.RowSet
	if err := c.do(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitJob starts an asynchronous job and returns its ID. A client-generated
// request token makes resubmission after a transport failure idempotent.
func (c *HTTPClient) SubmitJob(ctx context.Context, kind JobKind, entityID string, body any) (string, error) {
	req := struct {
		Token string `json:"token"`
		Body  any    `json:"body"`
	}{Token: uuid.New().String(), Body: body}

	var resp struct {
		JobID string `json:"job_id"`
	}
	path := fmt.Sprintf("/entity/%s/%s/async/start", url.PathEscape(entityID), url.PathEscape(string(kind)))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// GetJobStatus fetches the job's current status.
func (c *HTTPClient) GetJobStatus(ctx context.Context, kind JobKind, entityID, jobID string) (*types.JobStatus, error) {
	var resp types.JobStatus
	path := fmt.Sprintf("/entity/%s/%s/async/get/%s",
		url.PathEscape(entityID), url.PathEscape(string(kind)), url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StoreActivity stores a provenance-like sub-resource on the entity.
func (c *HTTPClient) StoreActivity(ctx context.Context, entityID string, act *types.Activity) error {
	return c.do(ctx, http.MethodPut, "/entity/"+url.PathEscape(entityID)+"/activity", act, nil)
}

// do performs one JSON round trip. Non-2xx responses become remote errors
// carrying the status and the server's message verbatim; they are never
// retried here.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("remote: failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCategoryRemote, errors.CodeRequestRejected, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		e := errors.New(errors.ErrCategoryRemote, errors.CodeNotFound, strings.TrimSpace(string(data)))
		e.Details = map[string]interface{}{"status": resp.StatusCode}
		return e
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewRemoteError(resp.StatusCode, strings.TrimSpace(string(data)), nil)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("remote: failed to decode response body: %w", err)
		}
	}
	return nil
}
