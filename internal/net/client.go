package net

import (
	"context"
	"net"
)

// ClientConn is the client side of a TCP replication connection.
type ClientConn struct {
	conn     net.Conn
	maxFrame int
}

func Dial(ctx context.Context, addr string, maxFrame int) (*ClientConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ClientConn{conn: conn, maxFrame: maxFrame}, nil
}

// Read blocks for the next server message.
func (c *ClientConn) Read() ([]byte, error) { return ReadFrame(c.conn, c.maxFrame) }

// Send writes one message to the server.
func (c *ClientConn) Send(data []byte) error { return WriteFrame(c.conn, data) }

func (c *ClientConn) Close() error { return c.conn.Close() }
