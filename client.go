package quic

import (
	"io"
	"net"
)

// Client dials outbound QUIC connections and serves the connections it
// creates through a Handler, the same way Server does for inbound ones -
// a client is just a binding that never accepts.
type Client struct {
	binding *binding
}

// NewClient creates a client using config. A nil config falls back to
// sensible defaults (see newConfig).
func NewClient(config *Config) *Client {
	if config == nil {
		config = newConfig()
	}
	return &Client{binding: newBinding(config)}
}

// SetHandler sets the callback invoked with the events accumulated on
// each connection this client dials.
func (c *Client) SetHandler(h Handler) {
	c.binding.setHandler(h)
}

// SetLogger sets the verbosity (0=off 1=error 2=info 3=debug 4=trace) of
// the qlog-style wire tracing written to w. Tracing is attached only to
// connections created while the level is 3 (debug) or higher; the
// operational log, written through logrus, is not affected.
func (c *Client) SetLogger(level int, w io.Writer) {
	c.binding.setLogger(level, w)
}

// ListenAndServe opens the local UDP socket this client sends from and
// receives on. addr may be "" or a port-only address to let the kernel
// pick an ephemeral port.
func (c *Client) ListenAndServe(addr string) error {
	return c.binding.listen(addr)
}

// LocalAddr returns the local address the client is bound to.
func (c *Client) LocalAddr() net.Addr {
	return c.binding.localAddr()
}

// Connect dials a new QUIC connection to addr. It returns once the
// initial handshake packet has been sent; the handshake itself
// completes asynchronously and is reported to the Handler as
// EventConnAccept.
func (c *Client) Connect(addr string) error {
	_, err := c.binding.connect(addr)
	return err
}

// Close shuts down the client's socket and stops serving connections.
func (c *Client) Close() error {
	return c.binding.close()
}
