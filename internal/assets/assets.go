// ABOUTME: Static asset serving with explicit content types and caching
// ABOUTME: Backs the /static/ mount from a configured directory

package assets

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// mimeFromExt returns the MIME type for a file extension. Falls back to
// the Go standard library's MIME database, then to octet-stream.
func mimeFromExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".ico":
		return "image/x-icon"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript"
	case ".svg":
		return "image/svg+xml"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// FileServer returns an http.Handler serving files from dir. Assets get a
// short public cache lifetime; directory listings are refused. The
// handler expects paths relative to the static root (strip /static/
// before calling).
func FileServer(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}

		if ext := strings.ToLower(path.Ext(r.URL.Path)); ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")

		fileServer.ServeHTTP(w, r)
	})
}
