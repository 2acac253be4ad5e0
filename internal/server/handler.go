package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/openfleet/device-gateway/internal/dedup"
	"github.com/openfleet/device-gateway/internal/frame"
	"github.com/openfleet/device-gateway/internal/message"
	"github.com/openfleet/device-gateway/internal/metrics"
	"github.com/openfleet/device-gateway/internal/publisher"
	"github.com/openfleet/device-gateway/internal/router"
)

// handleConn runs the READING -> FRAMING -> DISPATCHING loop for one
// connection until it observes cancellation, the peer closes, or a
// fatal per-connection error occurs. One goroutine per connection,
// deadline-then-read-then-dispatch; devices never receive traffic
// back, so there is no paired writer goroutine.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	defer func() { _ = conn.Close() }()

	dec := frame.NewDecoder(s.maxPendingBytes)
	buf := make([]byte, s.readBufSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			disconnect := false
			feedErr := dec.Feed(buf[:n], func(raw []byte) {
				if s.dispatchFrame(ctx, raw, logger) {
					disconnect = true
				}
			})
			if feedErr != nil {
				logger.Warn("framing_overflow", "error", feedErr)
				return
			}
			if disconnect {
				logger.Info("disconnect_on_publish_error")
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("idle_timeout")
				return
			}
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			s.setError(wrap)
			logger.Warn("conn_read_error", "error", wrap)
			return
		}
	}
}

// dispatchFrame runs parse -> dedup -> route -> publish for a single
// already-framed byte slice. Parse errors, duplicates, and unknown
// types are per-frame recoverable: they are logged and counted but
// never terminate the connection. It reports whether the caller should
// disconnect, which only ever happens after a publish failure when
// disconnectOnPublishError is set.
func (s *Server) dispatchFrame(ctx context.Context, raw []byte, logger *slog.Logger) bool {
	start := time.Now()
	m, err := frame.Parse(raw)
	if err != nil {
		reason := parseErrorReason(err)
		metrics.IncInvalid(reason)
		logger.Warn("parse_error", "reason", reason, "error", err)
		return false
	}
	m.ReceivedAt = time.Now()
	m.CorrelationID = message.NewCorrelationID()

	if s.Dedup.Observe(m.DeviceID, m.Counter) == dedup.Duplicate {
		metrics.IncDuplicate()
		logger.Info("duplicate", "device_id", m.DeviceID.String(), "counter", m.Counter)
		return false
	}

	var disconnect bool
	switch router.Classify(m.Type) {
	case router.Ignore:
		metrics.IncInvalid(metrics.ReasonUnknownType)
		logger.Warn("unknown_type", "device_id", m.DeviceID.String(), "type", m.Type)
		return false
	case router.DeviceMessage:
		disconnect = s.publishDeviceMessage(ctx, m, logger)
	case router.DeviceEvent:
		disconnect = s.publishDeviceEvent(ctx, m, logger)
	}
	metrics.MessageProcessingDuration.WithLabelValues(strconv.Itoa(int(m.Type))).Observe(time.Since(start).Seconds())
	return disconnect
}

func (s *Server) publishDeviceMessage(ctx context.Context, m message.Message, logger *slog.Logger) bool {
	env := router.BuildEnvelope(m)
	value, err := router.EncodeEnvelope(env)
	if err != nil {
		logger.Error("envelope_encode_error", "error", err)
		return false
	}
	ok, disconnect := s.publish(ctx, s.messageTopic, m.DeviceID.String(), value, logger)
	if ok {
		metrics.IncDeviceMessage()
	}
	return disconnect
}

func (s *Server) publishDeviceEvent(ctx context.Context, m message.Message, logger *slog.Logger) bool {
	value := router.RawProjection(m)
	ok, disconnect := s.publish(ctx, s.eventTopic, m.DeviceID.String(), value, logger)
	if ok {
		metrics.IncDeviceEvent()
	}
	return disconnect
}

// publish performs the timed publisher call and applies the default
// failure policy: log, count, drop the single message, keep the
// connection open. The deployment can opt into disconnecting the
// device instead via WithDisconnectOnPublishError.
func (s *Server) publish(ctx context.Context, topic, key string, value []byte, logger *slog.Logger) (ok, disconnect bool) {
	if s.Publisher == nil {
		return false, false
	}
	pctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	start := time.Now()
	err := s.Publisher.Publish(pctx, topic, key, value, router.Headers())
	metrics.PublishDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err == nil {
		return true, false
	}
	errClass := "transient"
	if errors.Is(err, publisher.ErrFatal) {
		errClass = "fatal"
	}
	metrics.IncPublishError(topic, errClass)
	logger.Warn("publish_error", "topic", topic, "key", key, "error", err)
	return false, s.disconnectOnPublishError
}

func parseErrorReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrBadSync):
		return metrics.ReasonBadSync
	case errors.Is(err, frame.ErrTooShort):
		return metrics.ReasonTooShort
	case errors.Is(err, frame.ErrLengthMismatch):
		return metrics.ReasonLengthMismatch
	default:
		return "other"
	}
}
