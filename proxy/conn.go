package proxy

import (
	"bufio"
	"net"
)

// peekedConn wraps a hijacked connection with a buffered reader so the
// first bytes can be inspected without consuming them.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func newPeekedConn(c net.Conn) *peekedConn {
	return &peekedConn{Conn: c, r: bufio.NewReader(c)}
}

func (c *peekedConn) Peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

func (c *peekedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// connInfo carries the CONNECT target through to requests parsed on the
// decrypted stream.
type connInfo struct {
	host string
	port int
}

// connInfoKey is the context key for connInfo.
var connInfoKey = new(struct{})

// chanListener feeds decrypted MITM connections into the internal HTTP
// server, one at a time, through a channel.
type chanListener struct {
	connChan chan net.Conn
}

func newChanListener() *chanListener {
	return &chanListener{connChan: make(chan net.Conn)}
}

func (l *chanListener) accept(c net.Conn) {
	l.connChan <- c
}

func (l *chanListener) Accept() (net.Conn, error) {
	c := <-l.connChan
	return c, nil
}

func (*chanListener) Close() error   { return nil }
func (*chanListener) Addr() net.Addr { return nil }

// mitmConn pairs a decrypted client connection with its CONNECT target.
type mitmConn struct {
	net.Conn
	info connInfo
}
