// Package metrics wires the gateway's counters, histograms, and gauge
// through prometheus/client_golang using promauto construction,
// extended with histograms for per-topic and per-type latency.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfleet/device-gateway/internal/logging"
)

var (
	DeviceMessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_messages_processed_total",
		Help: "Total messages routed to the device-message topic.",
	})
	DeviceEventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_events_processed_total",
		Help: "Total messages routed to the device-event topic.",
	})
	DuplicateMessagesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_messages_rejected_total",
		Help: "Total frames dropped because their counter was already observed.",
	})
	InvalidMessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invalid_messages_rejected_total",
		Help: "Total frames rejected, labeled by reason.",
	}, []string{"reason"})
	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_errors_total",
		Help: "Total publish failures, labeled by topic and error class.",
	}, []string{"topic", "error"})
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connections_accepted_total",
		Help: "Total TCP connections admitted past the concurrency cap.",
	})
	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connections_rejected_total",
		Help: "Total TCP connections closed immediately due to the admission cap.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_connections",
		Help: "Current number of admitted, active connections.",
	})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "message_processing_duration_seconds",
		Help:    "Time from frame decode to publish call, by message type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"message_type"})
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publish_duration_seconds",
		Help:    "Publisher call latency, by topic.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	readinessFn atomic.Value // func() bool
)

// Reason label constants (stable values to bound cardinality).
const (
	ReasonBadSync         = "bad_sync"
	ReasonTooShort        = "too_short"
	ReasonLengthMismatch  = "length_mismatch"
	ReasonUnknownType     = "unknown_message_type"
	ReasonFramingOverflow = "framing_overflow"
)

// IncInvalid increments the labeled invalid-message counter.
func IncInvalid(reason string) {
	InvalidMessagesRejected.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localInvalid, 1)
}

// IncPublishError increments the labeled publish-error counter.
func IncPublishError(topic, errClass string) {
	PublishErrors.WithLabelValues(topic, errClass).Inc()
	atomic.AddUint64(&localPublishErrors, 1)
}

// Local mirrored counters, read by Snap without touching the Prometheus
// registry — cheap enough for a periodic log line in deployments that
// scrape logs instead of Prometheus.
var (
	localDeviceMessages uint64
	localDeviceEvents   uint64
	localDuplicates     uint64
	localInvalid        uint64
	localPublishErrors  uint64
	localAccepted       uint64
	localRejected       uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	DeviceMessages uint64
	DeviceEvents   uint64
	Duplicates     uint64
	Invalid        uint64
	PublishErrors  uint64
	Accepted       uint64
	Rejected       uint64
}

// Snap returns the current counter values.
func Snap() Snapshot {
	return Snapshot{
		DeviceMessages: atomic.LoadUint64(&localDeviceMessages),
		DeviceEvents:   atomic.LoadUint64(&localDeviceEvents),
		Duplicates:     atomic.LoadUint64(&localDuplicates),
		Invalid:        atomic.LoadUint64(&localInvalid),
		PublishErrors:  atomic.LoadUint64(&localPublishErrors),
		Accepted:       atomic.LoadUint64(&localAccepted),
		Rejected:       atomic.LoadUint64(&localRejected),
	}
}

// IncDeviceMessage records one message-class publish.
func IncDeviceMessage() {
	DeviceMessagesProcessed.Inc()
	atomic.AddUint64(&localDeviceMessages, 1)
}

// IncDeviceEvent records one event-class publish.
func IncDeviceEvent() {
	DeviceEventsProcessed.Inc()
	atomic.AddUint64(&localDeviceEvents, 1)
}

// IncDuplicate records one duplicate-suppressed frame.
func IncDuplicate() {
	DuplicateMessagesRejected.Inc()
	atomic.AddUint64(&localDuplicates, 1)
}

// IncConnectionAccepted records one admitted connection.
func IncConnectionAccepted() {
	ConnectionsAccepted.Inc()
	atomic.AddUint64(&localAccepted, 1)
}

// IncConnectionRejected records one connection rejected for lack of an
// admission token.
func IncConnectionRejected() {
	ConnectionsRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

// SetReadinessFunc registers the function used by /healthz.
func SetReadinessFunc(fn func() bool) { readinessFn.Store(fn) }

// IsReady invokes the registered readiness function, defaulting to
// true so the endpoint does not flap before one is registered.
func IsReady() bool {
	v := readinessFn.Load()
	if v == nil {
		return true
	}
	return v.(func() bool)()
}

// StartHTTP serves /metrics and /healthz on addr. Only the cmd/ glue
// calls it, not the core pipeline: the core depends only on the
// counters, histograms, and gauge above.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
