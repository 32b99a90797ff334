// Package observability provides operation statistics tracking for sync runs
// and performance monitoring.
package observability

import (
	"sort"
	"sync"
	"time"
)

// SyncStats tracks per-operation call counts, failures, and cumulative
// latency across sync runs. All methods are O(1) and thread-safe; a nil
// *SyncStats is a valid no-op recorder.
type SyncStats struct {
	mu  sync.RWMutex
	ops map[string]*OperationStats
}

// OperationStats holds statistics for one operation kind (e.g. "query",
// "patch_batch", "bulk_upload", "schema_change").
type OperationStats struct {
	Operation string
	Calls     int64
	Failures  int64
	Rows      int64
	Elapsed   time.Duration
	LastSeen  time.Time
}

// NewSyncStats creates a new operation statistics tracker.
func NewSyncStats() *SyncStats {
	return &SyncStats{ops: make(map[string]*OperationStats)}
}

// Record records one completed call of the named operation. rows is the row
// count the call touched, zero when not applicable.
func (s *SyncStats) Record(operation string, rows int64, elapsed time.Duration, failed bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, exists := s.ops[operation]
	if !exists {
		stats = &OperationStats{Operation: operation}
		s.ops[operation] = stats
	}

	stats.Calls++
	if failed {
		stats.Failures++
	}
	stats.Rows += rows
	stats.Elapsed += elapsed
	stats.LastSeen = time.Now()
}

// Timed records the named operation with the elapsed time since start.
func (s *SyncStats) Timed(operation string, rows int64, start time.Time, err error) {
	s.Record(operation, rows, time.Since(start), err != nil)
}

// Snapshot returns a copy of all operation stats sorted by call count
// (descending).
func (s *SyncStats) Snapshot() []OperationStats {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]OperationStats, 0, len(s.ops))
	for _, stats := range s.ops {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Calls > out[j].Calls
	})
	return out
}

// Get returns a copy of one operation's stats and whether it was recorded.
func (s *SyncStats) Get(operation string) (OperationStats, bool) {
	if s == nil {
		return OperationStats{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.ops[operation]
	if !ok {
		return OperationStats{}, false
	}
	return *stats, true
}

// Reset discards all recorded statistics.
func (s *SyncStats) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = make(map[string]*OperationStats)
}
