package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration

	maxConnections  int
	readBufferSize  int
	maxPendingBytes int
	idleTimeout     time.Duration
	publishTimeout  time.Duration
	dedupCap        int

	messageTopic string
	eventTopic   string

	disconnectOnPublishError bool
	publisherBacklog         int

	mdnsEnable bool
	mdnsName   string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":20000", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log pipeline counters")

	maxConnections := flag.Int("max-connections", 100, "Maximum simultaneous device connections")
	readBufferSize := flag.Int("read-buffer-size", 4096, "Per-read syscall buffer size, bytes")
	maxPendingBytes := flag.Int("max-pending-bytes", 1<<20, "Per-connection framing backlog cap before disconnect, bytes")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "Per-connection idle read timeout")
	publishTimeout := flag.Duration("publish-timeout", 30*time.Second, "Per-message publish call timeout")
	dedupCap := flag.Int("dedup-cap", 1000, "Retained counters per device for duplicate suppression")

	messageTopic := flag.String("message-topic", "device-message", "Publish topic for structured device messages")
	eventTopic := flag.String("event-topic", "device-event", "Publish topic for raw device events")

	disconnectOnPublishError := flag.Bool("disconnect-on-publish-error", false, "Disconnect a device when publishing its message fails, instead of logging and continuing")
	publisherBacklog := flag.Int("publisher-backlog", 1024, "Async publisher queue depth")

	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the listen port")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default device-gateway-<hostname>)")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxConnections = *maxConnections
	cfg.readBufferSize = *readBufferSize
	cfg.maxPendingBytes = *maxPendingBytes
	cfg.idleTimeout = *idleTimeout
	cfg.publishTimeout = *publishTimeout
	cfg.dedupCap = *dedupCap
	cfg.messageTopic = *messageTopic
	cfg.eventTopic = *eventTopic
	cfg.disconnectOnPublishError = *disconnectOnPublishError
	cfg.publisherBacklog = *publisherBacklog
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not open sockets or listeners, only checks values and ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.maxConnections <= 0 {
		return fmt.Errorf("max-connections must be > 0 (got %d)", c.maxConnections)
	}
	if c.readBufferSize <= 0 {
		return fmt.Errorf("read-buffer-size must be > 0 (got %d)", c.readBufferSize)
	}
	if c.idleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	if c.publishTimeout <= 0 {
		return fmt.Errorf("publish-timeout must be > 0")
	}
	if c.dedupCap < 0 {
		return fmt.Errorf("dedup-cap must be >= 0")
	}
	if c.messageTopic == "" || c.eventTopic == "" {
		return fmt.Errorf("message-topic and event-topic must not be empty")
	}
	if c.publisherBacklog <= 0 {
		return fmt.Errorf("publisher-backlog must be > 0 (got %d)", c.publisherBacklog)
	}
	return nil
}

// applyEnvOverrides maps DEVICE_GATEWAY_* environment variables to config
// fields unless a corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["max-connections"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MAX_CONNECTIONS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxConnections = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_MAX_CONNECTIONS: %w", err)
			}
		}
	}
	if _, ok := set["read-buffer-size"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_READ_BUFFER_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.readBufferSize = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_READ_BUFFER_SIZE: %w", err)
			}
		}
	}
	if _, ok := set["max-pending-bytes"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MAX_PENDING_BYTES"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxPendingBytes = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_MAX_PENDING_BYTES: %w", err)
			}
		}
	}
	if _, ok := set["idle-timeout"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_IDLE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.idleTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_IDLE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["publish-timeout"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_PUBLISH_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.publishTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_PUBLISH_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["dedup-cap"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_DEDUP_CAP"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.dedupCap = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_DEDUP_CAP: %w", err)
			}
		}
	}
	if _, ok := set["message-topic"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MESSAGE_TOPIC"); ok && v != "" {
			c.messageTopic = v
		}
	}
	if _, ok := set["event-topic"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_EVENT_TOPIC"); ok && v != "" {
			c.eventTopic = v
		}
	}
	if _, ok := set["disconnect-on-publish-error"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_DISCONNECT_ON_PUBLISH_ERROR"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.disconnectOnPublishError = true
			case "0", "false", "no", "off":
				c.disconnectOnPublishError = false
			}
		}
	}
	if _, ok := set["publisher-backlog"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_PUBLISHER_BACKLOG"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.publisherBacklog = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_PUBLISHER_BACKLOG: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
