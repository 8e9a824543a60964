package fileserver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"

	"example.com/gciserve/internal/logger"
	"example.com/gciserve/internal/server"
)

const listingBatchSize = 64

// serveDirectory renders entries in the order the directory yields them,
// without sorting. Links join the requested path, a slash and the entry name.
func (d *Dispatcher) serveDirectory(w *responseRecorder, fsPath, rel string) {
	dir, err := os.Open(fsPath)
	if err != nil {
		d.log.Warn("Failed to open directory", logger.LogFields{"path": fsPath, "error": err.Error()})
		d.writeError(w, http.StatusInternalServerError, server.MessageDirectoryOpenFailed)
		return
	}
	defer dir.Close()

	w.status = http.StatusOK
	if err := server.WriteStatus(w, http.StatusOK, server.StatusTextListingOK, "text/html"); err != nil {
		d.log.Debug("Client went away before headers", logger.LogFields{"path": fsPath, "error": err.Error()})
		return
	}
	fmt.Fprintf(w, "<html><body><h1>Directory Listing for %s</h1><ul>", rel)

	// Go's directory reads never yield the dot entries; POSIX readdir does.
	if d.dotEntries {
		d.writeListItem(w, rel, ".", nil)
		d.writeListItem(w, rel, "..", nil)
	}

	for {
		entries, err := dir.ReadDir(listingBatchSize)
		for _, e := range entries {
			d.writeListItem(w, rel, e.Name(), e)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			d.log.Error("Error reading directory", logger.LogFields{"path": fsPath, "error": err.Error()})
			break
		}
		if len(entries) == 0 {
			break
		}
	}

	io.WriteString(w, "</ul></body></html>")
}

func (d *Dispatcher) writeListItem(w io.Writer, rel, name string, entry fs.DirEntry) {
	size := ""
	if d.listingSizes && entry != nil && entry.Type().IsRegular() {
		if info, err := entry.Info(); err == nil {
			size = " (" + humanize.Bytes(uint64(info.Size())) + ")"
		}
	}
	fmt.Fprintf(w, "<li><a href=\"%s/%s\">%s</a>%s</li>", rel, name, name, size)
}
