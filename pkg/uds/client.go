package uds

import (
	"net"
	"time"

	"github.com/yanun0323/errors"
)

// Client dials Unix domain sockets using a precomputed address.
type Client struct {
	addr net.UnixAddr
}

// NewClient creates a client for the provided socket path.
func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	return &Client{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (c *Client) Path() string {
	return c.addr.Name
}

// Dial opens a Unix domain socket connection.
func (c *Client) Dial() (*net.UnixConn, error) {
	return net.DialUnix(unixNetwork, nil, &c.addr)
}

// DialTimeout opens a connection, failing after the given duration.
func (c *Client) DialTimeout(d time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout(unixNetwork, c.addr.Name, d)
	if err != nil {
		return nil, errors.Wrap(err, "dial unix")
	}
	return conn, nil
}
