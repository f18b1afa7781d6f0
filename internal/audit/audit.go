// Package audit records state-mutating API operations: who changed
// what, when, and with what outcome. Entries go to the structured log
// and to an in-memory ring served by the audit endpoint.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Operation  string        `json:"operation"` // create, update, delete, trigger
	Resource   string        `json:"resource"`
	ResourceID string        `json:"resource_id,omitempty"`
	Principal  string        `json:"principal,omitempty"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration_ms"`
	ErrorMsg   string        `json:"error_message,omitempty"`
}

// Logger keeps the most recent audit entries in memory.
type Logger struct {
	enabled bool
	logger  *zap.Logger
	sink    func(Entry)

	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// SetSink installs a durable sink, called best-effort for every entry.
func (l *Logger) SetSink(sink func(Entry)) {
	l.sink = sink
}

// NewLogger creates an audit logger keeping the last 1000 entries.
func NewLogger(logger *zap.Logger, enabled bool) *Logger {
	return &Logger{
		enabled:    enabled,
		logger:     logger.Named("audit"),
		entries:    make([]Entry, 0, 1000),
		maxEntries: 1000,
	}
}

// Log records an audit entry.
func (l *Logger) Log(entry Entry) {
	if !l.enabled {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("resource", entry.Resource),
		zap.Bool("success", entry.Success),
		zap.Duration("duration", entry.Duration),
	}
	if entry.ResourceID != "" {
		fields = append(fields, zap.String("resource_id", entry.ResourceID))
	}
	if entry.ErrorMsg != "" {
		fields = append(fields, zap.String("error_message", entry.ErrorMsg))
	}
	l.logger.Info("Audit", fields...)

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink(entry)
	}
}

// Recent returns the newest limit entries, newest first.
func (l *Logger) Recent(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out
}
