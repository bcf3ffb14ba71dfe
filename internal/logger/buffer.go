package logger

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

const defaultRecentSize = 2000

// Entry is one captured log line
type Entry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// RecentBuffer keeps the last N log entries in a ring
type RecentBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	count   int
}

var (
	recent     *RecentBuffer
	recentOnce sync.Once
)

// Recent returns the process-wide buffer used by Setup
func Recent() *RecentBuffer {
	recentOnce.Do(func() {
		recent = NewRecentBuffer(defaultRecentSize)
	})
	return recent
}

func NewRecentBuffer(size int) *RecentBuffer {
	if size < 1 {
		size = 1
	}
	return &RecentBuffer{entries: make([]Entry, size)}
}

func (b *RecentBuffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// Query filters entries newest first. An empty level or runID matches everything;
// level matches entries at or above it.
type Query struct {
	Limit int
	Level string
	RunID string
}

func (b *RecentBuffer) Get(q Query) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > b.count {
		limit = b.count
	}
	minLevel := levelRank(q.Level)

	result := make([]Entry, 0, limit)
	for i := 0; i < b.count && len(result) < limit; i++ {
		e := b.entries[(b.next-1-i+len(b.entries))%len(b.entries)]
		if q.RunID != "" && e.RunID != q.RunID {
			continue
		}
		if q.Level != "" && levelRank(e.Level) < minLevel {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (b *RecentBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

func levelRank(level string) int {
	switch strings.ToLower(level) {
	case "trace":
		return 0
	case "debug":
		return 1
	case "info":
		return 2
	case "warn", "warning":
		return 3
	case "error":
		return 4
	case "fatal", "panic":
		return 5
	default:
		return 2
	}
}

// RecentWriter tees zerolog JSON lines to another writer and into a buffer
type RecentWriter struct {
	out io.Writer
	buf *RecentBuffer
}

func NewRecentWriter(out io.Writer, buf *RecentBuffer) *RecentWriter {
	return &RecentWriter{out: out, buf: buf}
}

func (w *RecentWriter) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if w.out != nil {
		n, err = w.out.Write(p)
	}

	var line struct {
		Time      string `json:"time"`
		Level     string `json:"level"`
		Component string `json:"component"`
		RunID     string `json:"run_id"`
		Message   string `json:"message"`
		Error     string `json:"error"`
	}
	// Lines that are not JSON objects are passed through and not buffered
	if json.Unmarshal(p, &line) == nil && (line.Level != "" || line.Message != "") {
		e := Entry{
			Time:      time.Now().UTC(),
			Level:     line.Level,
			Component: line.Component,
			RunID:     line.RunID,
			Message:   line.Message,
			Error:     line.Error,
		}
		if ts, perr := time.Parse(time.RFC3339, line.Time); perr == nil {
			e.Time = ts
		}
		w.buf.Add(e)
	}
	return n, err
}
