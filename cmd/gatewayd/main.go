package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/openfleet/device-gateway/internal/dedup"
	"github.com/openfleet/device-gateway/internal/discovery"
	"github.com/openfleet/device-gateway/internal/metrics"
	"github.com/openfleet/device-gateway/internal/publisher"
	"github.com/openfleet/device-gateway/internal/server"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("gatewayd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	// No broker client exists in the retrieved dependency set, so the
	// default deployment publishes via the synchronous Log adapter and
	// logs every accepted message at debug level. A real deployment supplies its own
	// publisher.SendFunc to publisher.NewAsync and swaps it in here.
	pub := publisher.NewLog(0)

	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr),
		server.WithDedup(dedup.New(cfg.dedupCap)),
		server.WithPublisher(pub),
		server.WithTopics(cfg.messageTopic, cfg.eventTopic),
		server.WithMaxConnections(cfg.maxConnections),
		server.WithReadBufferSize(cfg.readBufferSize),
		server.WithMaxPendingBytes(cfg.maxPendingBytes),
		server.WithIdleTimeout(cfg.idleTimeout),
		server.WithPublishTimeout(cfg.publishTimeout),
		server.WithDisconnectOnPublishError(cfg.disconnectOnPublishError),
		server.WithLogger(l),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if i := strings.LastIndex(addr, ":"); i >= 0 {
				if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		meta := []string{"version=" + version, "commit=" + commit}
		cleanup, err := discovery.Advertise(ctx, cfg.mdnsName, portNum, meta)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", discovery.ServiceType, "port", portNum)
		go func() { <-ctx.Done(); cleanup() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	_ = pub.Close()
	wg.Wait()
}
