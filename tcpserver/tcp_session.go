package tcpserver

// TCPServerSession is the interface that must be implemented by each connection
// session. The server creates a session per connection, runs Handle in a
// goroutine and drops the session from its registry once Handle returns.
type TCPServerSession interface {
	// ID returns the session's unique identifier assigned by the server.
	//
	// Returns:
	//   - The session ID (uint32)
	ID() uint32

	// Handle runs the session's read loop until the connection is closed or
	// the session decides to exit.
	Handle()

	// Close closes the session and releases resources. It must be safe to call
	// multiple times and concurrently with Handle.
	//
	// Returns:
	//   - An error if closing failed
	Close() error
}
