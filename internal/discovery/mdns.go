// Package discovery advertises the gateway's TCP listen port over mDNS
// so devices on the same LAN can find it without a static address.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type advertised for the gateway.
const ServiceType = "_device-gateway._tcp"

// Advertise registers instance (or a hostname-derived default) under
// ServiceType at port, and returns a cleanup function. It blocks
// nothing: registration happens synchronously, teardown happens when
// the returned func is called or ctx is cancelled.
func Advertise(ctx context.Context, instance string, port int, meta []string) (func(), error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("device-gateway-%s", host)
	}
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
