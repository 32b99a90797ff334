package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestSyncStats_RecordAndSnapshot(t *testing.T) {
	s := NewSyncStats()
	s.Record("candidate_query", 100, 20*time.Millisecond, false)
	s.Record("candidate_query", 50, 10*time.Millisecond, false)
	s.Record("patch_batch", 10, 5*time.Millisecond, true)

	q, ok := s.Get("candidate_query")
	if !ok {
		t.Fatal("candidate_query not recorded")
	}
	if q.Calls != 2 || q.Rows != 150 || q.Elapsed != 30*time.Millisecond || q.Failures != 0 {
		t.Errorf("candidate_query = %+v", q)
	}

	p, _ := s.Get("patch_batch")
	if p.Failures != 1 {
		t.Errorf("patch_batch failures = %d, want 1", p.Failures)
	}

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	// Sorted by call count descending.
	if snap[0].Operation != "candidate_query" {
		t.Errorf("snapshot[0] = %s", snap[0].Operation)
	}
}

func TestSyncStats_Timed(t *testing.T) {
	s := NewSyncStats()
	s.Timed("bulk_upload", 5, time.Now().Add(-time.Millisecond), fmt.Errorf("boom"))

	op, ok := s.Get("bulk_upload")
	if !ok || op.Failures != 1 || op.Elapsed <= 0 {
		t.Errorf("bulk_upload = %+v", op)
	}
}

func TestSyncStats_NilReceiverIsNoOp(t *testing.T) {
	var s *SyncStats
	s.Record("x", 1, time.Millisecond, false)
	s.Timed("x", 1, time.Now(), nil)
	if snap := s.Snapshot(); snap != nil {
		t.Errorf("nil snapshot = %v", snap)
	}
	if _, ok := s.Get("x"); ok {
		t.Error("nil Get reported ok")
	}
	s.Reset()
}

func TestSyncStats_Reset(t *testing.T) {
	s := NewSyncStats()
	s.Record("x", 1, time.Millisecond, false)
	s.Reset()
	if len(s.Snapshot()) != 0 {
		t.Error("reset left stats behind")
	}
}
