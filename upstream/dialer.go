// Package upstream opens the proxy's outbound connection to the game server.
package upstream

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Config holds the settings for connecting to the game server.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// KeepAlive is the TCP keep-alive period; negative disables keep-alives.
	KeepAlive time.Duration
}

// DefaultConfig returns a Config for address with a 10s connection timeout and
// a 30s keep-alive period.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with default timeouts
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		KeepAlive:         30 * time.Second,
	}
}

// Dialer connects to the configured game server.
type Dialer struct {
	config Config
	dialer net.Dialer
}

// NewDialer returns a Dialer for config.
func NewDialer(config Config) *Dialer {
	return &Dialer{
		config: config,
		dialer: net.Dialer{
			Timeout:   config.ConnectionTimeout,
			KeepAlive: config.KeepAlive,
		},
	}
}

// Address returns the server address this Dialer connects to.
func (d *Dialer) Address() string {
	return d.config.Address
}

// Dial opens a new TCP connection to the server.
//
// Parameters:
//   - ctx: Cancels the connection attempt; it does not affect the returned connection
//
// Returns:
//   - The connection, or an error naming the address on failure
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", d.config.Address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", d.config.Address, err)
	}

	return conn, nil
}
