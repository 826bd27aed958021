package api

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// WebHandler serves the embedded page. Unknown paths fall back to
// index.html; the page is never cached so a redeploy takes effect on reload.
func WebHandler(webFS fs.FS) http.Handler {
	files := http.FileServer(http.FS(webFS))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		if st, err := fs.Stat(webFS, name); err != nil || st.IsDir() {
			http.ServeFileFS(w, r, webFS, "index.html")
			return
		}
		if strings.HasSuffix(name, ".html") {
			w.Header().Set("Cache-Control", "no-cache")
		}
		files.ServeHTTP(w, r)
	})
}
