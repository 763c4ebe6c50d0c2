// Package reachability implements the driven.ReachabilityProbe port.
package reachability

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
)

var (
	_ driven.ReachabilityProbe = (*DialProbe)(nil)
	_ driven.ReachabilityProbe = Static(false)
)

// DefaultTimeout bounds a single probe when none is configured.
const DefaultTimeout = 2 * time.Second

// DialProbe answers reachability by opening a TCP connection to a known
// host. Every call dials; nothing is cached.
type DialProbe struct {
	addr    string
	timeout time.Duration
	dialer  func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialProbe creates a probe that dials addr (host:port) with timeout.
func NewDialProbe(addr string, timeout time.Duration) *DialProbe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &net.Dialer{}
	return &DialProbe{
		addr:    addr,
		timeout: timeout,
		dialer:  d.DialContext,
	}
}

// IsReachable reports whether a TCP connection to the probe address could be
// established before the timeout.
func (p *DialProbe) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer(ctx, "tcp", p.addr)
	if err != nil {
		slog.Debug("reachability probe failed", "addr", p.addr, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// Static is a probe with a fixed answer, used for offline mode.
type Static bool

// IsReachable returns the fixed answer.
func (s Static) IsReachable(context.Context) bool {
	return bool(s)
}
