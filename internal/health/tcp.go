// Package health provides reachability checks for running units, used by
// the operations CLI to distinguish a live unit from a stale registry
// entry left behind by a crashed process. Adapted from the teacher's
// pkg/health TCPChecker, narrowed to the one check kind that applies to a
// unit addressed by host:port (the HTTP and exec checkers targeted
// container health endpoints, which have no equivalent here).
package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Result is the outcome of a reachability check.
type Result struct {
	Reachable bool
	Message   string
	Duration  time.Duration
}

// TCPChecker dials Address and reports whether the connection succeeds
// within Timeout.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker builds a checker with a 2s default timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 2 * time.Second}
}

// Check dials the address and reports the outcome.
func (c *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	dialer := net.Dialer{Timeout: c.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return Result{Reachable: false, Message: fmt.Sprintf("dial failed: %v", err), Duration: time.Since(start)}
	}
	conn.Close()
	return Result{Reachable: true, Message: "connected", Duration: time.Since(start)}
}
