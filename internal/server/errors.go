package server

import (
	"fmt"
	"io"
	"net/http"
)

// Status-line reason texts used on the wire. The static file path answers with
// a lowercase "ok" while the listing path uses "OK".
const (
	StatusTextFileOK    = "ok"
	StatusTextListingOK = "OK"
)

// Messages embedded in error responses.
const (
	MessageForbidden           = "Forbidden"
	MessageNotFound            = "Not Found"
	MessageMethodNotAllowed    = "Method Not Allowed"
	MessageInternalServerError = "Internal Server Error"
	MessageDirectoryOpenFailed = "Failed to open directory"
	MessageProcessCreateFailed = "Internal Server Error: cannot create script process"
)

// DefaultMessage returns the message used for a status code when the caller
// has nothing more specific.
func DefaultMessage(statusCode int) string {
	switch statusCode {
	case http.StatusForbidden:
		return MessageForbidden
	case http.StatusNotFound:
		return MessageNotFound
	case http.StatusMethodNotAllowed:
		return MessageMethodNotAllowed
	case http.StatusInternalServerError:
		return MessageInternalServerError
	}
	if text := http.StatusText(statusCode); text != "" {
		return text
	}
	return "Error"
}

// WriteStatus emits a status line and a Content-Type header followed by the
// blank line that ends the header block.
func WriteStatus(w io.Writer, statusCode int, statusText, contentType string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: %s\r\n\r\n", statusCode, statusText, contentType)
	if err != nil {
		return fmt.Errorf("failed to write status line (status %d): %w", statusCode, err)
	}
	return nil
}

// GenerateErrorBody renders the HTML body of an error response. The message is
// embedded as-is, without HTML escaping.
func GenerateErrorBody(statusCode int, message string) []byte {
	return []byte(fmt.Sprintf("<html><body><h1>%d %s</h1><p>%s</p></body></html>", statusCode, message, message))
}

// WriteErrorResponse emits a complete error response: the status line carries
// message as its reason text and the HTML body repeats code and message.
func WriteErrorResponse(w io.Writer, statusCode int, message string) error {
	if message == "" {
		message = DefaultMessage(statusCode)
	}
	if err := WriteStatus(w, statusCode, message, "text/html"); err != nil {
		return err
	}
	if _, err := w.Write(GenerateErrorBody(statusCode, message)); err != nil {
		return fmt.Errorf("failed to write error response body (status %d): %w", statusCode, err)
	}
	return nil
}
