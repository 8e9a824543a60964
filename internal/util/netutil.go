package util

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"
)

// CreateListener creates a TCP listener on address. A positive maxConns caps
// the number of simultaneously accepted connections; zero means unlimited.
func CreateListener(address string, maxConns int) (net.Listener, error) {
	if address == "" {
		return nil, fmt.Errorf("listen address cannot be empty")
	}
	if maxConns < 0 {
		return nil, fmt.Errorf("invalid connection limit %d", maxConns)
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// IsAddrInUse checks if the error indicates an "address already in use" condition.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.EADDRINUSE) {
		return true
	}
	// Fallback for wrapped errors that only carry the text.
	return strings.Contains(strings.ToLower(err.Error()), "address already in use")
}

// IsTemporaryAcceptError reports whether an Accept error is worth retrying:
// timeouts and descriptor exhaustion, or a peer that aborted before accept completed.
func IsTemporaryAcceptError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.EINTR)
}
