// Package publisher defines the abstract capability the gateway
// forwards classified messages to, and ships two concrete adapters: a
// synchronous logging adapter for tests and dry runs, and an
// asynchronous fan-in adapter meant to be wrapped around a real broker
// client in production.
package publisher

import (
	"context"
	"errors"
)

// ErrTransient is wrapped into the error returned by Publish when the
// failure is expected to be masked by upstream retries at the broker
// (e.g. a full outbound buffer, a momentary connection hiccup). The
// gateway's connection handler logs, counts, and drops the single
// message but keeps the connection open.
var ErrTransient = errors.New("publisher: transient error")

// ErrFatal is wrapped into the error returned by Publish when the
// publisher itself can no longer make progress (e.g. closed).
var ErrFatal = errors.New("publisher: fatal error")

// Headers are carried alongside a publish call; string-valued to match
// the common broker client shape (e.g. Kafka record headers).
type Headers map[string]string

// Publisher is the abstract external capability the core depends on.
// A production deployment wraps a real broker client (Kafka, Pulsar,
// a distributed log) behind this interface; the core never imports
// one directly.
type Publisher interface {
	// Publish sends value under key to topic, honoring ctx's deadline.
	// A nil error means the broker accepted the record. A non-nil error
	// wraps ErrTransient or ErrFatal so callers can classify it with
	// errors.Is.
	Publish(ctx context.Context, topic, key string, value []byte, headers Headers) error
	// Flush blocks until all in-flight publishes have been acknowledged
	// or ctx's deadline elapses.
	Flush(ctx context.Context) error
	// Close releases the publisher's resources. Publish after Close
	// always returns an error wrapping ErrFatal.
	Close() error
}
