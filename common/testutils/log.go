package testutils

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// LogRecorder is a slog.Handler that captures the records a component emits
// so tests can assert on how much it logged at each level.
type LogRecorder struct {
	threshold slog.Level

	mu      sync.Mutex
	records []slog.Record
}

// NewLogRecorder returns a recorder that captures records strictly above
// threshold; records at or below it are reported as disabled.
func NewLogRecorder(threshold slog.Level) *LogRecorder {
	return &LogRecorder{threshold: threshold}
}

// Counts returns how many records were captured per level.
func (r *LogRecorder) Counts() map[slog.Level]uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[slog.Level]uint)
	for _, rec := range r.records {
		counts[rec.Level]++
	}
	return counts
}

// AssertCounts asserts the captured levels match want exactly.
// A nil want asserts that nothing was captured.
func (r *LogRecorder) AssertCounts(t *testing.T, want map[slog.Level]uint) bool {
	t.Helper()

	if want == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return assert.Empty(t, r.records)
	}
	return assert.Equal(t, want, r.Counts())
}

// Dump writes every captured record to the test log.
func (r *LogRecorder) Dump(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		t.Logf("%v %s", rec.Level, rec.Message)
		rec.Attrs(func(attr slog.Attr) bool {
			t.Logf("  %s", attr.String())
			return true
		})
	}
}

// Enabled implements slog.Handler.
func (r *LogRecorder) Enabled(_ context.Context, level slog.Level) bool {
	return level > r.threshold
}

// Handle implements slog.Handler.
func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

// WithAttrs implements slog.Handler. Attributes are not tracked separately;
// the recorder only counts records.
func (r *LogRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }

// WithGroup implements slog.Handler.
func (r *LogRecorder) WithGroup(string) slog.Handler { return r }
