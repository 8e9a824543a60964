// Package request extracts the request line from the first bytes read off a
// connection.
//
// Parsing is deliberately shallow. Only one read is made, so a request line
// longer than the buffer is truncated, and a client that sends the line in
// several segments may be seen only partially. No check is made that exactly
// three tokens were present, and a missing line terminator is not noticed.
package request

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Request is the (method, path, protocol) triple of one connection.
// Absent tokens are empty strings.
type Request struct {
	Method   string
	Path     string
	Protocol string

	// Tokens is how many of the three tokens were present.
	Tokens int
	// Truncated is set when the read filled the whole buffer, so the
	// request may have been cut short.
	Truncated bool
}

// Short reports whether fewer than three tokens were found.
func (r Request) Short() bool { return r.Tokens < 3 }

// HasPath reports whether a path token was present at all.
func (r Request) HasPath() bool { return r.Tokens >= 2 }

// Parse scans buf for up to three whitespace-separated tokens. Whitespace
// includes line breaks, so anything after the request line is only reached
// when the line itself holds fewer than three tokens.
func Parse(buf []byte) Request {
	var tokens [3]string
	n := 0
	rest := buf
	for n < len(tokens) {
		rest = bytes.TrimLeft(rest, " \t\r\n\v\f")
		if len(rest) == 0 {
			break
		}
		end := bytes.IndexAny(rest, " \t\r\n\v\f")
		if end < 0 {
			end = len(rest)
		}
		tokens[n] = string(rest[:end])
		rest = rest[end:]
		n++
	}
	return Request{Method: tokens[0], Path: tokens[1], Protocol: tokens[2], Tokens: n}
}

// Read performs a single read of at most size-1 bytes from r and parses the
// result. A read error is returned alongside whatever was parsed from
// the bytes that did arrive; io.EOF with no data is not an error.
func Read(r io.Reader, size int) (Request, error) {
	if size < 2 {
		return Request{}, fmt.Errorf("read buffer size %d is too small", size)
	}
	buf := make([]byte, size)
	n, err := r.Read(buf[:size-1])
	req := Parse(buf[:n])
	req.Truncated = n == size-1
	if err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("failed to read request: %w", err)
	}
	return req, nil
}
