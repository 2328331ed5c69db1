package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/hope140/strmsync/pkg/plog"
)

// Metrics defines the interface for collecting and reporting reconciliation
// run statistics.
type Metrics interface {
	AddFilesSeen(n int64)
	AddFilesSkipped(n int64)
	AddFilesCopied(n int64)
	AddFilesOverwritten(n int64)
	AddFilesDeleted(n int64)
	AddFilesArchived(n int64)
	AddPointersGenerated(n int64)
	AddPointersDeleted(n int64)
	RecordFailedPath(path string)
	FailedPaths() []string
	Log()
}

// RunMetrics holds the atomic counters for one reconciliation run.
// It is the concrete implementation of the Metrics interface.
type RunMetrics struct {
	FilesSeen         atomic.Int64
	FilesSkipped      atomic.Int64
	FilesCopied       atomic.Int64
	FilesOverwritten  atomic.Int64
	FilesDeleted      atomic.Int64
	FilesArchived     atomic.Int64
	PointersGenerated atomic.Int64
	PointersDeleted   atomic.Int64

	mu     sync.Mutex
	failed []string
}

func (m *RunMetrics) AddFilesSeen(n int64)         { m.FilesSeen.Add(n) }
func (m *RunMetrics) AddFilesSkipped(n int64)      { m.FilesSkipped.Add(n) }
func (m *RunMetrics) AddFilesCopied(n int64)       { m.FilesCopied.Add(n) }
func (m *RunMetrics) AddFilesOverwritten(n int64)  { m.FilesOverwritten.Add(n) }
func (m *RunMetrics) AddFilesDeleted(n int64)      { m.FilesDeleted.Add(n) }
func (m *RunMetrics) AddFilesArchived(n int64)     { m.FilesArchived.Add(n) }
func (m *RunMetrics) AddPointersGenerated(n int64) { m.PointersGenerated.Add(n) }
func (m *RunMetrics) AddPointersDeleted(n int64)   { m.PointersDeleted.Add(n) }

// RecordFailedPath records a source path whose copy or hash did not complete.
func (m *RunMetrics) RecordFailedPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, path)
}

// FailedPaths returns a copy of the recorded failed/timed-out source paths.
func (m *RunMetrics) FailedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.failed))
	copy(out, m.failed)
	return out
}

// Log prints a summary of the run.
func (m *RunMetrics) Log() {
	plog.Info("SUM",
		"filesSeen", m.FilesSeen.Load(),
		"skipped", m.FilesSkipped.Load(),
		"copied", m.FilesCopied.Load(),
		"overwritten", m.FilesOverwritten.Load(),
		"deleted", m.FilesDeleted.Load(),
		"archived", m.FilesArchived.Load(),
		"pointersGenerated", m.PointersGenerated.Load(),
		"pointersDeleted", m.PointersDeleted.Load(),
		"failed", int64(len(m.FailedPaths())),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no
// operations. It can be used to disable metrics collection without changing
// the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesSeen(n int64)         {}
func (m *NoopMetrics) AddFilesSkipped(n int64)      {}
func (m *NoopMetrics) AddFilesCopied(n int64)       {}
func (m *NoopMetrics) AddFilesOverwritten(n int64)  {}
func (m *NoopMetrics) AddFilesDeleted(n int64)      {}
func (m *NoopMetrics) AddFilesArchived(n int64)     {}
func (m *NoopMetrics) AddPointersGenerated(n int64) {}
func (m *NoopMetrics) AddPointersDeleted(n int64)   {}
func (m *NoopMetrics) RecordFailedPath(path string) {}
func (m *NoopMetrics) FailedPaths() []string        { return nil }
func (m *NoopMetrics) Log()                         {}

// Statically assert that our types implement the interface.
var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
