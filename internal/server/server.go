// Package server implements the acceptor and per-connection handler:
// a bounded-admission TCP listener that hands each accepted connection
// to a sequential decode -> parse -> dedup -> route -> publish loop.
// Admission is enforced with an explicit token semaphore so the
// concurrency cap is exact rather than approximated under a lock that
// could race with a concurrent accept.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfleet/device-gateway/internal/dedup"
	"github.com/openfleet/device-gateway/internal/logging"
	"github.com/openfleet/device-gateway/internal/metrics"
	"github.com/openfleet/device-gateway/internal/publisher"
)

const (
	defaultMaxConnections  = 100
	defaultReadBufferSize  = 4096
	defaultMaxPendingBytes = 1 << 20 // 1 MiB
	defaultIdleTimeout     = 30 * time.Second
	defaultPublishTimeout  = 30 * time.Second
	defaultDedupCap        = 1000
)

// Server owns the TCP listener and the bounded admission budget.
type Server struct {
	mu   sync.RWMutex
	addr string

	Dedup     *dedup.Index
	Publisher publisher.Publisher

	messageTopic string
	eventTopic   string

	maxConnections  int
	readBufSize     int
	maxPendingBytes int
	idleTimeout     time.Duration
	publishTimeout  time.Duration

	// disconnectOnPublishError switches a publish failure from
	// log-and-continue (the default, false) to closing the
	// connection. See DESIGN.md Open Question 1.
	disconnectOnPublishError bool

	tokens chan struct{}

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	listener net.Listener
	wg       sync.WaitGroup
	logger   *slog.Logger
	connsMu  sync.Mutex
	conns    map[uint64]net.Conn

	nextConnID    uint64
	totalAccepted atomic.Uint64
	totalRejected atomic.Uint64
	activeConns   atomic.Int64
}

// Option configures a Server at construction time.
type Option func(*Server)

// NewServer builds a Server with production-sized defaults, overridable
// via Option.
func NewServer(opts ...Option) *Server {
	s := &Server{
		maxConnections:  defaultMaxConnections,
		readBufSize:     defaultReadBufferSize,
		maxPendingBytes: defaultMaxPendingBytes,
		idleTimeout:     defaultIdleTimeout,
		publishTimeout:  defaultPublishTimeout,
		readyCh:         make(chan struct{}),
		errCh:           make(chan error, 1),
		logger:          logging.L(),
		Dedup:           dedup.New(defaultDedupCap),
		conns:           make(map[uint64]net.Conn),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	s.tokens = make(chan struct{}, s.maxConnections)
	for i := 0; i < s.maxConnections; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

func WithListenAddr(a string) Option { return func(s *Server) { s.addr = a } }
func WithDedup(d *dedup.Index) Option {
	return func(s *Server) {
		if d != nil {
			s.Dedup = d
		}
	}
}
func WithPublisher(p publisher.Publisher) Option { return func(s *Server) { s.Publisher = p } }
func WithTopics(messageTopic, eventTopic string) Option {
	return func(s *Server) { s.messageTopic, s.eventTopic = messageTopic, eventTopic }
}
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConnections = n
		}
	}
}
func WithReadBufferSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.readBufSize = n
		}
	}
}
func WithMaxPendingBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxPendingBytes = n
		}
	}
}
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}
func WithDisconnectOnPublishError(v bool) Option {
	return func(s *Server) { s.disconnectOnPublishError = v }
}
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

// ActiveConnections reports the current number of admitted connections.
func (s *Server) ActiveConnections() int { return int(s.activeConns.Load()) }

// TokensFree reports the number of unused admission tokens; used by
// tests asserting the admission-conservation invariant.
func (s *Server) TokensFree() int { return len(s.tokens) }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP clients and spawns a connection handler per admitted
// connection, until ctx is cancelled or the listener fails fatally.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, tries to admit it, and spawns
// its handler. Returns a non-nil error only for fatal listener failures.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok {
			time.Sleep(50 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)

	select {
	case <-s.tokens:
	default:
		s.totalRejected.Add(1)
		metrics.IncConnectionRejected()
		_ = conn.Close()
		return nil
	}

	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	metrics.IncConnectionAccepted()
	s.activeConns.Add(1)
	metrics.ActiveConnections.Set(float64(s.activeConns.Load()))
	connLogger.Info("client_connected")

	s.connsMu.Lock()
	s.conns[connID] = conn
	s.connsMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseConn(connID, connLogger)
		s.handleConn(ctx, conn, connLogger)
	}()
	return nil
}

// releaseConn returns the admission token exactly once, forgets the
// connection, and updates the active-connection gauge; called from a
// single deferred site per connection so the admission-conservation
// invariant always holds.
func (s *Server) releaseConn(connID uint64, logger *slog.Logger) {
	s.connsMu.Lock()
	delete(s.conns, connID)
	s.connsMu.Unlock()
	s.tokens <- struct{}{}
	s.activeConns.Add(-1)
	metrics.ActiveConnections.Set(float64(s.activeConns.Load()))
	logger.Info("client_disconnected")
}

// Shutdown stops accepting by closing the listener, closes every tracked
// connection so its handler's blocked read returns, and waits for the
// handlers to exit or ctx to expire. It does not cancel the context
// passed to Serve.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.connsMu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "rejected", s.totalRejected.Load())
		return nil
	}
}
