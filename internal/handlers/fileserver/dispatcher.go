// Package fileserver turns one accepted connection into one classified,
// routed and rendered response: a static file, a directory listing, the
// output of an external script, or an error page.
package fileserver

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/gciserve/internal/config"
	"example.com/gciserve/internal/logger"
	"example.com/gciserve/internal/request"
	"example.com/gciserve/internal/server"
)

// Dispatcher implements server.ConnHandler. It holds only configuration, so a
// single instance serves every connection concurrently.
type Dispatcher struct {
	root         string
	bufSize      int
	scriptSuffix string
	dotEntries   bool
	listingSizes bool
	log          *logger.Logger
}

var _ server.ConnHandler = (*Dispatcher)(nil)

// New creates a Dispatcher from a defaulted configuration.
func New(cfg *config.Config, lg *logger.Logger) (*Dispatcher, error) {
	if cfg == nil || cfg.Server == nil || cfg.Handler == nil {
		return nil, fmt.Errorf("fileserver: configuration must be defaulted before use")
	}
	if lg == nil {
		return nil, fmt.Errorf("fileserver: logger cannot be nil")
	}
	if cfg.Server.ReadBufferSize == nil || *cfg.Server.ReadBufferSize < 2 {
		return nil, fmt.Errorf("fileserver: server.read_buffer_size must be at least 2")
	}
	if cfg.Server.DocumentRoot == nil || *cfg.Server.DocumentRoot == "" {
		return nil, fmt.Errorf("fileserver: server.document_root cannot be empty")
	}
	if cfg.Handler.ScriptSuffix == nil {
		return nil, fmt.Errorf("fileserver: handler.script_suffix is not set")
	}
	return &Dispatcher{
		root:         *cfg.Server.DocumentRoot,
		bufSize:      *cfg.Server.ReadBufferSize,
		scriptSuffix: *cfg.Handler.ScriptSuffix,
		dotEntries:   cfg.Handler.ListingDotEntries != nil && *cfg.Handler.ListingDotEntries,
		listingSizes: cfg.Handler.ListingSizes != nil && *cfg.Handler.ListingSizes,
		log:          lg,
	}, nil
}

// responseRecorder counts what reaches the connection and remembers the status
// line that was written, for the access log.
type responseRecorder struct {
	w      io.Writer
	status int
	bytes  int64
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	r.bytes += int64(n)
	return n, err
}

// ServeConn reads one request from conn and writes exactly one response.
// It never closes conn.
func (d *Dispatcher) ServeConn(conn net.Conn) {
	start := time.Now()
	rec := &responseRecorder{w: conn}
	req, kind := d.dispatch(conn, rec)
	d.log.Access(logger.AccessEntry{
		RemoteAddr:   conn.RemoteAddr().String(),
		Method:       req.Method,
		Path:         req.Path,
		Protocol:     req.Protocol,
		Kind:         kind.String(),
		Status:       rec.status,
		Bytes:        rec.bytes,
		Duration:     time.Since(start),
		ShortRequest: req.Short(),
	})
}

func (d *Dispatcher) dispatch(r io.Reader, w *responseRecorder) (request.Request, Kind) {
	req, err := request.Read(r, d.bufSize)
	if err != nil {
		d.log.Debug("Request read failed; continuing with what was parsed", logger.LogFields{"error": err.Error()})
	}
	if req.Short() {
		d.log.Debug("Short request line", logger.LogFields{"tokens": req.Tokens, "truncated": req.Truncated})
	}

	if req.Method != http.MethodGet {
		d.writeError(w, http.StatusMethodNotAllowed, server.MessageMethodNotAllowed)
		return req, KindUnclassified
	}
	if !req.HasPath() {
		d.writeError(w, http.StatusNotFound, server.MessageNotFound)
		return req, KindMissing
	}

	rel := strings.TrimPrefix(req.Path, "/")
	fsPath := d.resolve(rel)
	kind := Classify(fsPath, rel, d.scriptSuffix)

	switch kind {
	case KindMissing:
		d.writeError(w, http.StatusNotFound, server.MessageNotFound)
	case KindDirectory:
		d.serveDirectory(w, fsPath, rel)
	case KindRegularAsset:
		d.serveFile(w, fsPath, rel)
	case KindRegularScript:
		d.executeScript(w, fsPath, rel)
	default:
		d.writeError(w, http.StatusForbidden, server.MessageForbidden)
	}
	return req, kind
}

// resolve maps a request path, already stripped of its leading slash, onto the
// document root. The path is not cleaned, so ".." segments can leave the root.
func (d *Dispatcher) resolve(rel string) string {
	if rel == "" {
		return d.root
	}
	return d.root + string(os.PathSeparator) + filepath.FromSlash(rel)
}

func (d *Dispatcher) writeError(w *responseRecorder, statusCode int, message string) {
	w.status = statusCode
	if err := server.WriteErrorResponse(w, statusCode, message); err != nil {
		d.log.Debug("Failed to write error response", logger.LogFields{"status": statusCode, "error": err.Error()})
	}
}
