package reachability

import (
	"context"
	"net"
	"time"
)

// defaultDialTimeout bounds a single TCP probe
const defaultDialTimeout = 5 * time.Second

// TCPProber reports satisfied when a TCP connection to Address can be opened
type TCPProber struct {
	// Address is a host:port pair, usually the collector
	Address string

	// Timeout bounds each dial. Zero uses a 5 second timeout.
	Timeout time.Duration

	dialer net.Dialer
}

// NewTCPProber creates a prober for address
func NewTCPProber(address string, timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &TCPProber{Address: address, Timeout: timeout}
}

// Probe implements Prober
func (p *TCPProber) Probe(ctx context.Context) Status {
	if p.Address == "" {
		return StatusUnknown
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return StatusUnsatisfied
	}
	_ = conn.Close()
	return StatusSatisfied
}
