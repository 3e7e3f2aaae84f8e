package serve

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// staticHandler serves the browser client from dir with SPA fallback to
// index.html. Without a built client it serves a placeholder page.
func staticHandler(dir string) http.Handler {
	if dir == "" {
		return placeholderHandler()
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		return placeholderHandler()
	}

	dist := os.DirFS(dir)
	fileServer := http.FileServer(http.FS(dist))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index.html"
		}

		// Hashed assets can be cached forever; index.html must revalidate.
		if strings.HasPrefix(path, "/assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}

		name := strings.TrimPrefix(path, "/")
		if fs.ValidPath(name) {
			if info, err := fs.Stat(dist, name); err == nil && !info.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		// SPA fallback: serve index.html for all non-file routes.
		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func placeholderHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(placeholderHTML))
	})
}

const placeholderHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>examlab</title>
  <style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body { font-family: system-ui, -apple-system, sans-serif; background: #0a0a0b; color: #e4e4e7; display: flex; align-items: center; justify-content: center; min-height: 100vh; }
    .container { text-align: center; max-width: 600px; padding: 2rem; }
    h1 { font-size: 2rem; margin-bottom: 0.5rem; color: #ee0000; }
    p { color: #a1a1aa; margin-bottom: 1.5rem; }
    .api-link { color: #f87171; text-decoration: none; border: 1px solid #27272a; padding: 0.75rem 1.5rem; border-radius: 0.5rem; display: inline-block; }
    code { background: #18181b; padding: 0.2rem 0.4rem; border-radius: 0.25rem; font-size: 0.875rem; }
  </style>
</head>
<body>
  <div class="container">
    <h1>examlab</h1>
    <p>No browser client is configured. The API is available.</p>
    <p>Point <code>static_dir</code> at a built client to serve it here.</p>
    <a class="api-link" href="/exercises">List exercises</a>
  </div>
</body>
</html>
`
