package wire

import (
	"net"
	"testing"
)

// newPipeConns returns a pair of Conns backed by an in-memory net.Pipe, for
// tests that need two ends of a connected socket without binding a real
// port.
func newPipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	return NewConn(a), NewConn(b)
}
