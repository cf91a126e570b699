package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// frontendAvailable reports whether dir holds a built frontend.
func frontendAvailable(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// spaHandler serves files from dir and falls back to index.html for any
// path that is not an existing regular file.
func spaHandler(dir string) http.Handler {
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean("/" + r.URL.Path)
		candidate := filepath.Join(dir, filepath.FromSlash(clean))

		// ServeFile rejects raw paths containing "..", serve the cleaned one.
		r = r.Clone(r.Context())
		r.URL.Path = clean

		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			http.ServeFile(w, r, candidate)
			return
		}
		if _, err := os.Stat(index); err != nil {
			log.Warn().Str("index", index).Msg("frontend index missing")
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}

// assetsHandler serves dir/assets under /assets/.
func assetsHandler(dir string) http.Handler {
	return http.StripPrefix("/assets/", http.FileServer(http.Dir(filepath.Join(dir, "assets"))))
}
