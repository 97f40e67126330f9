package server

import (
	"io/fs"
	"net/http"
	"path"

	"github.com/spf13/afero"
)

// StaticHandler serves previously built files from a directory. With history
// fallback enabled, unknown extensionless paths serve index.html so client-side
// routes survive a reload; missing files with extensions always return 404.
type StaticHandler struct {
	fileServer      http.Handler
	filesystem      fs.FS
	historyFallback bool
}

// NewStaticHandler creates a handler serving dir on fsys.
func NewStaticHandler(fsys afero.Fs, dir string, historyFallback bool) *StaticHandler {
	sub := afero.NewIOFS(afero.NewBasePathFs(fsys, dir))
	return &StaticHandler{
		fileServer:      http.FileServer(http.FS(sub)),
		filesystem:      sub,
		historyFallback: historyFallback,
	}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path
	if urlPath == "/" {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	filePath := urlPath[1:]
	if _, err := fs.Stat(h.filesystem, filePath); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// r.URL.Path is already decoded, so %2Ecss counts as an extension.
	if !h.historyFallback || path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	h.fileServer.ServeHTTP(w, r2)
}
