package quic

import (
	"io"
	"net"
)

// Server accepts inbound QUIC connections on a UDP socket and serves
// them through a Handler.
type Server struct {
	binding *binding
}

// NewServer creates a server using config. A nil config falls back to
// sensible defaults (see newConfig).
func NewServer(config *Config) *Server {
	if config == nil {
		config = newConfig()
	}
	return &Server{binding: newBinding(config)}
}

// SetHandler sets the callback invoked with the events accumulated on
// each connection accepted by this server.
func (s *Server) SetHandler(h Handler) {
	s.binding.setHandler(h)
}

// SetLogger sets the verbosity (0=off 1=error 2=info 3=debug 4=trace) of
// the qlog-style wire tracing written to w. Tracing is attached only to
// connections created while the level is 3 (debug) or higher; the
// operational log, written through logrus, is not affected.
func (s *Server) SetLogger(level int, w io.Writer) {
	s.binding.setLogger(level, w)
}

// ListenAndServe opens addr and starts accepting connections. It
// returns once the socket is bound; accepting and serving run on a
// background goroutine.
func (s *Server) ListenAndServe(addr string) error {
	return s.binding.listen(addr)
}

// LocalAddr returns the local address the server is bound to.
func (s *Server) LocalAddr() net.Addr {
	return s.binding.localAddr()
}

// Close shuts down the server's socket and stops serving connections.
func (s *Server) Close() error {
	return s.binding.close()
}
