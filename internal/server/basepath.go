package server

import (
	"net/http"
	"strings"
)

// NormalizeBasePath ensures the base path starts and ends with '/'.
func NormalizeBasePath(basePath string) string {
	if basePath == "" {
		return "/"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath = basePath + "/"
	}
	return basePath
}

// MountPublicPath serves inner under the bundle's public path, stripping the
// prefix before forwarding. Requests outside the public path get 404. A public
// path of "/" returns inner unchanged.
func MountPublicPath(publicPath string, inner http.Handler) http.Handler {
	bp := NormalizeBasePath(publicPath)
	if bp == "/" {
		return inner
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var stripped string
		switch {
		case strings.HasPrefix(r.URL.Path, bp):
			stripped = "/" + strings.TrimPrefix(r.URL.Path, bp)
		case r.URL.Path+"/" == bp:
			stripped = "/"
		default:
			http.NotFound(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = stripped
		r2.URL.RawPath = ""
		inner.ServeHTTP(w, r2)
	})
}
