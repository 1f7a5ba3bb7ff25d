// Package web serves the lesson client as a single-page application,
// either from the copy embedded at build time (dist/) or from a directory
// on disk.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// Embedded returns the embedded client assets.
func Embedded() fs.FS {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return sub
}

// Handler serves clientDir when it is set, the embedded assets otherwise.
func Handler(clientDir string) http.Handler {
	if clientDir != "" {
		return SPAHandler(os.DirFS(clientDir))
	}
	return SPAHandler(Embedded())
}

// SPAHandler serves static files from assets and falls back to index.html
// for any path that does not match a file (client-side routing).
func SPAHandler(assets fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(assets))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := assets.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close asset", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
