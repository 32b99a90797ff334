// Package batch groups row-level wire messages into requests that respect a
// byte-size ceiling. Update (patch) and insert (bulk row) traffic use
// separate Writers with independently configured ceilings.
package batch

import (
	"context"
	"fmt"

	"github.com/tessera/tessera/pkg/types"
)

// Sizer exposes an item's serialized wire size in bytes.
type Sizer interface {
	WireSize() int
}

// FlushFunc submits one accumulated batch and blocks until the remote has
// applied it.
type FlushFunc func(ctx context.Context, items []Sizer) error

// Writer accumulates items under a cumulative byte ceiling, flushing a
// pending batch whenever the next item would overflow it. Batches are
// flushed strictly in accumulation order and each flush completes before
// the next begins.
type Writer struct {
	ceiling  int64
	progress types.ProgressFunc

	batches int
}

// NewWriter creates a writer with the given byte ceiling.
func NewWriter(ceiling int64, progress types.ProgressFunc) *Writer {
	return &Writer{ceiling: ceiling, progress: progress}
}

// Batches returns how many batches have been flushed so far.
func (w *Writer) Batches() int { return w.batches }

// Write batches the items and submits each batch through flush.
//
// A single item whose size alone exceeds the ceiling is still placed into
// its own batch, never dropped or split; if the remote rejects such a batch
// its error surfaces unchanged.
func (w *Writer) Write(ctx context.Context, items []Sizer, flush FlushFunc) error {
	total := int64(len(items))
	var pending []Sizer
	var pendingSize int64
	var done int64

	flushPending := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := flush(ctx, pending); err != nil {
			return fmt.Errorf("batch: failed to flush batch of %d items: %w", len(pending), err)
		}
		w.batches++
		done += int64(len(pending))
		if w.progress != nil {
			w.progress(fmt.Sprintf("flushed batch %d", w.batches), done, total)
		}
		pending = nil
		pendingSize = 0
		return nil
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := int64(item.WireSize())
		if len(pending) > 0 && pendingSize+size > w.ceiling {
			if err := flushPending(); err != nil {
				return err
			}
		}
		pending = append(pending, item)
		pendingSize += size
	}

	return flushPending()
}
