package sessions

import "sync"

// SafeConn serializes writes to one WebSocket connection. The session handler
// writes history and error frames while the hub goroutine delivers agent
// frames to the same connection, and the underlying connection permits only
// one writer at a time.
type SafeConn struct {
	mu   sync.Mutex
	conn Conn
}

var _ Conn = (*SafeConn)(nil)

// NewSafeConn wraps a connection so multiple goroutines can write to it.
func NewSafeConn(conn Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteMessage writes one frame while holding the write lock.
func (c *SafeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection.
func (c *SafeConn) Close() error {
	return c.conn.Close()
}
