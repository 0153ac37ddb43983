package wire

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// FramedConn provides blocking, ordered, all-or-nothing reads and writes on
// a single TCP connection, plus a bulk file-range transfer. It is single-use:
// any error discards the connection rather than trying to resynchronize it.
type FramedConn struct {
	conn net.Conn
}

// NewFramedConn wraps an already-dialed or already-accepted connection.
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{conn: conn}
}

// Dial opens a new TCP connection to the peer's sync port.
func Dial(addr string, timeout time.Duration) (*FramedConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}
	return &FramedConn{conn: conn}, nil
}

// Close discards the connection. Safe to call more than once.
func (c *FramedConn) Close() error {
	return c.conn.Close()
}

// WriteExact writes the entirety of buf or returns an error; a short write
// from the underlying socket is treated as an error, never silently retried
// at a different offset.
func (c *FramedConn) WriteExact(buf []byte) error {
	n, err := c.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("wire: short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// ReadExact fills buf completely or returns an error.
func (c *FramedConn) ReadExact(buf []byte) error {
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return fmt.Errorf("wire: read: %w", err)
	}
	return nil
}

// SendFileRange streams exactly n bytes from f, starting at f's current
// offset, to the peer. On Linux and Darwin, net.TCPConn implements
// io.ReaderFrom and the runtime issues sendfile(2) when the source is an
// *os.File, so io.CopyN is the idiomatic Go equivalent of the spec's
// "sendfile-style bulk transfer without userspace copy where the platform
// supports it" — falling back to a plain read/write loop everywhere else
// automatically. Any short transfer is an error.
func (c *FramedConn) SendFileRange(f *os.File, n int64) error {
	written, err := io.CopyN(c.conn, f, n)
	if err != nil {
		return fmt.Errorf("wire: sendFileRange: %w", err)
	}
	if written != n {
		return fmt.Errorf("wire: sendFileRange short transfer: sent %d of %d bytes", written, n)
	}
	return nil
}

// SetDeadline proxies to the underlying connection. The worker itself
// applies no timeouts (liveness is the supervisor's concern).
func (c *FramedConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// RemoteAddr returns the address of the peer end of the connection.
func (c *FramedConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
