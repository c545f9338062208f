package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker performs TCP-based health checks
type TCPChecker struct {
	// Address is the TCP address to connect to (e.g., "db.internal:5432")
	Address string

	// Label identifies this checker in a composite report
	Label string

	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP health checker
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Label:   "tcp",
		Timeout: 5 * time.Second,
	}
}

// Check performs the TCP health check
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	// Create a dialer with timeout
	dialer := &net.Dialer{
		Timeout: t.Timeout,
	}

	// Attempt to connect
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	// Connection successful
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// Name identifies this checker in a composite report
func (t *TCPChecker) Name() string {
	return t.Label
}

// WithLabel sets the name reported in a composite check
func (t *TCPChecker) WithLabel(label string) *TCPChecker {
	t.Label = label
	return t
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
