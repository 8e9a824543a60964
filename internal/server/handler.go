package server

import (
	"net"
)

// ConnHandler turns one accepted connection into one response.
//
// ServeConn must not close conn; the Server closes it exactly once after
// ServeConn returns, whether it returns normally or panics. Implementations
// are called concurrently from one goroutine per connection.
type ConnHandler interface {
	ServeConn(conn net.Conn)
}

// ConnHandlerFunc adapts an ordinary function to ConnHandler.
type ConnHandlerFunc func(conn net.Conn)

// ServeConn calls f(conn).
func (f ConnHandlerFunc) ServeConn(conn net.Conn) { f(conn) }
