package server

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/rathix/cashier-devkit/internal/compiler"
)

// ArtifactSource exposes the compile-watch loop's in-memory output.
type ArtifactSource interface {
	// WaitValid blocks until the first compile has settled and returns the last
	// good artifact set, which is nil if no compile has succeeded yet.
	WaitValid(ctx context.Context) (*compiler.ArtifactSet, error)
}

// DevMiddleware serves compiled artifacts from memory. Requests for paths the
// current set does not contain fall through to next.
func DevMiddleware(source ArtifactSource, publicPath string) Middleware {
	publicPath = NormalizeBasePath(publicPath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			set, err := source.WaitValid(r.Context())
			if err != nil {
				// Client went away or the server is shutting down.
				return
			}
			artifact, ok := set.Lookup(publicPath, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", artifact.ContentType)
			w.Header().Set("ETag", artifact.ETag)
			w.Header().Set("Cache-Control", "no-cache")
			http.ServeContent(w, r, artifact.Path, time.Time{}, bytes.NewReader(artifact.Contents))
		})
	}
}
