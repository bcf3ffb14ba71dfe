package pipeline

import (
	"sync"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// TaskReport summarizes one partition
type TaskReport struct {
	Partition  int    `json:"partition"`
	Name       string `json:"name"`
	Rows       int64  `json:"rows"`
	Records    int64  `json:"records"`
	Batches    int64  `json:"batches"`
	SpillPath  string `json:"spill_path,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunReport summarizes one pipeline run
type RunReport struct {
	RunID      string           `json:"run_id"`
	Trigger    string           `json:"trigger"`
	Status     Status           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	DurationMs int64            `json:"duration_ms"`
	Partitions int              `json:"partitions"`
	Rows       int64            `json:"rows"`
	Records    int64            `json:"records"`
	Tasks      []TaskReport     `json:"tasks"`
	Reduce     map[string]int64 `json:"reduce,omitempty"`
	Export     map[string]int64 `json:"export,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// History keeps the most recent run reports
type History struct {
	mu      sync.RWMutex
	reports []RunReport
	size    int
	next    int
	count   int
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{reports: make([]RunReport, size), size: size}
}

func (h *History) Add(r RunReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports[h.next] = r
	h.next = (h.next + 1) % h.size
	if h.count < h.size {
		h.count++
	}
}

// List returns up to limit reports, newest first. limit <= 0 returns all.
func (h *History) List(limit int) []RunReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	out := make([]RunReport, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.next - 1 - i + h.size) % h.size
		out = append(out, h.reports[idx])
	}
	return out
}

// Get finds a report by run id
func (h *History) Get(runID string) (RunReport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := 0; i < h.count; i++ {
		if h.reports[i].RunID == runID {
			return h.reports[i], true
		}
	}
	return RunReport{}, false
}
