package publisher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openfleet/device-gateway/internal/logging"
)

// Record is one captured publish call, retained by Log for tests.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers Headers
}

// Log is a synchronous Publisher that writes a structured log line per
// publish at debug level and retains an in-memory history for
// assertions, bounded only when maxKept > 0. It is the adapter
// cmd/gatewayd wires by default, and doubles as the test fixture used
// throughout the package tests.
type Log struct {
	mu      sync.Mutex
	logger  *slog.Logger
	history []Record
	maxKept int
	closed  bool
}

// NewLog returns a Log adapter. maxKept bounds the retained history;
// 0 means unbounded.
func NewLog(maxKept int) *Log {
	return &Log{logger: logging.L(), maxKept: maxKept}
}

func (l *Log) Publish(_ context.Context, topic, key string, value []byte, headers Headers) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrFatal
	}
	l.logger.Debug("publish", "topic", topic, "key", key, "bytes", len(value))
	l.history = append(l.history, Record{Topic: topic, Key: key, Value: value, Headers: headers})
	if l.maxKept > 0 && len(l.history) > l.maxKept {
		l.history = l.history[len(l.history)-l.maxKept:]
	}
	return nil
}

func (l *Log) Flush(_ context.Context) error { return nil }

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Records returns a copy of the publishes recorded so far.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.history))
	copy(out, l.history)
	return out
}
