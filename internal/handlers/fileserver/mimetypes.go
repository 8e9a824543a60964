package fileserver

import "strings"

// DefaultContentType is sent for files that match none of the known markers.
const DefaultContentType = "application/octet-stream"

// contentTypes is checked in order; the first marker found anywhere in the
// path wins. "page.html.txt" is therefore text/html and "data.json" is
// application/javascript.
var contentTypes = []struct {
	marker      string
	contentType string
}{
	{".html", "text/html"},
	{".txt", "text/plain"},
	{".css", "text/css"},
	{".js", "application/javascript"},
}

// ResolveContentType maps a request path to the Content-Type of a static file.
// Matching is case-sensitive substring search.
func ResolveContentType(path string) string {
	for _, ct := range contentTypes {
		if strings.Contains(path, ct.marker) {
			return ct.contentType
		}
	}
	return DefaultContentType
}
