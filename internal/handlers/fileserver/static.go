package fileserver

import (
	"errors"
	"io"
	"net/http"
	"os"

	"example.com/gciserve/internal/logger"
	"example.com/gciserve/internal/server"
)

// serveFile streams a regular file in bufSize chunks. The file can vanish
// between classification and open; that surfaces as 404.
func (d *Dispatcher) serveFile(w *responseRecorder, fsPath, rel string) {
	f, err := os.Open(fsPath)
	if err != nil {
		d.log.Debug("Failed to open file", logger.LogFields{"path": fsPath, "error": err.Error()})
		d.writeError(w, http.StatusNotFound, server.MessageNotFound)
		return
	}
	defer f.Close()

	w.status = http.StatusOK
	if err := server.WriteStatus(w, http.StatusOK, server.StatusTextFileOK, ResolveContentType(rel)); err != nil {
		d.log.Debug("Client went away before headers", logger.LogFields{"path": fsPath, "error": err.Error()})
		return
	}

	buf := make([]byte, d.bufSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				d.log.Debug("Error writing file data", logger.LogFields{"path": fsPath, "error": err.Error()})
				return
			}
		}
		if errors.Is(readErr, io.EOF) {
			return
		}
		if readErr != nil {
			// Headers are already out; the response just ends short.
			d.log.Error("Error reading file", logger.LogFields{"path": fsPath, "error": readErr.Error()})
			return
		}
	}
}
