package upsert

import (
	"context"
	"fmt"
	"time"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/internal/query"
	"github.com/tessera/tessera/internal/remote"
)

// waitForConsistency polls the entity until every tracked row etag reappears
// in query results, removing each etag from the tracked set as it shows up.
// The wait is bounded by the consistency timeout, measured from the first
// poll; unlike job polling there is no progress signal to reset the deadline
// against.
func (o *Orchestrator) waitForConsistency(ctx context.Context, entityID string, etags []string) error {
	remaining := make(map[string]bool, len(etags))
	for _, e := range etags {
		remaining[e] = true
	}

	start := time.Now()
	for len(remaining) > 0 {
		probe := make([]string, 0, len(remaining))
		for e := range remaining {
			probe = append(probe, e)
		}

		sql := query.SelectByETags(entityID, probe)
		rs, err := o.api.Query(ctx, sql, remote.QueryOptions{IncludeRowIDs: true, IncludeETags: true})
		if err != nil {
			return fmt.Errorf("upsert: consistency probe failed: %w", err)
		}
		for _, row := range rs.Rows {
			delete(remaining, row.ETag)
		}
		if len(remaining) == 0 {
			break
		}

		if elapsed := time.Since(start); elapsed > o.opts.ConsistencyTimeout {
			return errors.NewTimeoutError(errors.CodeConsistencyTimeout,
				fmt.Sprintf("%d of %d row etags not visible after %s", len(remaining), len(etags), o.opts.ConsistencyTimeout),
				elapsed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.opts.PollInterval):
		}
	}
	return nil
}
