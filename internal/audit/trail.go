// Package audit records every delivered event as compressed JSONL for
// diagnostics. The trail is not a replay source; events are not persisted
// across restarts for delivery purposes.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Entry is one delivered-event record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	UserID    string    `json:"user_id"`
	Event     string    `json:"event"`
	EventID   string    `json:"event_id"`
	Delivered int       `json:"delivered"`
}

// Trail appends entries to a dated, zstd-compressed JSONL file.
type Trail struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	file    *os.File
	encoder *zstd.Encoder
	day     string
	closed  bool
}

// NewTrail opens a trail writing under dir.
func NewTrail(dir string, logger *zap.Logger) (*Trail, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trail{dir: dir, logger: logger}
	if err := t.open(time.Now()); err != nil {
		return nil, err
	}
	return t, nil
}

// open starts a new dated file. Caller holds the lock (or is constructing).
func (t *Trail) open(now time.Time) error {
	day := now.Format("2006-01-02")
	path := filepath.Join(t.dir, fmt.Sprintf("events_%s.jsonl.zst", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit file: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	t.file = f
	t.encoder = enc
	t.day = day
	return nil
}

// Append writes one entry. Errors are logged, not returned: auditing never
// blocks delivery.
func (t *Trail) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	line, err := json.Marshal(e)
	if err != nil {
		t.logger.Warn("audit entry not encodable", zap.Error(err))
		return
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, err := t.encoder.Write(line); err != nil {
		t.logger.Warn("audit write failed", zap.Error(err))
	}
}

// Rotate closes the current file and starts a new one for the current day.
// Wired to a daily cron schedule in the server binary.
func (t *Trail) Rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	now := time.Now()
	if now.Format("2006-01-02") == t.day {
		return
	}
	t.closeLocked()
	t.closed = false
	if err := t.open(now); err != nil {
		t.logger.Error("audit rotation failed", zap.Error(err))
		t.closed = true
		return
	}
	t.logger.Info("audit trail rotated", zap.String("day", t.day))
}

func (t *Trail) closeLocked() {
	if t.encoder != nil {
		_ = t.encoder.Close()
		t.encoder = nil
	}
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
	t.closed = true
}

// Close flushes and closes the trail.
func (t *Trail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closeLocked()
	}
}

// Nop is a disabled trail; Append and Rotate are no-ops.
type Nop struct{}

func (Nop) Append(Entry) {}
func (Nop) Rotate()      {}
func (Nop) Close()       {}

// Sink is what the server handlers write to: either a *Trail or Nop.
type Sink interface {
	Append(Entry)
	Rotate()
	Close()
}
