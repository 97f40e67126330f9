package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newTestHandler(t *testing.T, historyFallback bool) *StaticHandler {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"/app/dist/index.html":  "<html><body>SPA</body></html>",
		"/app/dist/app.dev.js":  "console.log('app')",
		"/app/dist/img/logo.png": "fakepng",
	}
	for name, contents := range files {
		if err := afero.WriteFile(fsys, name, []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return NewStaticHandler(fsys, "/app/dist", historyFallback)
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRootServesIndexHTML(t *testing.T) {
	rec := serve(newTestHandler(t, false), "/")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "SPA") {
		t.Errorf("expected body to contain 'SPA', got %q", rec.Body.String())
	}
}

func TestStaticFileServedDirectly(t *testing.T) {
	rec := serve(newTestHandler(t, false), "/img/logo.png")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "fakepng" {
		t.Errorf("expected 'fakepng', got %q", rec.Body.String())
	}
}

func TestHistoryFallbackForUnknownRoute(t *testing.T) {
	rec := serve(newTestHandler(t, true), "/checkout/receipt")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "SPA") {
		t.Errorf("expected fallback to index.html, got %q", rec.Body.String())
	}
}

func TestNoHistoryFallbackByDefault(t *testing.T) {
	rec := serve(newTestHandler(t, false), "/checkout/receipt")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 without history fallback, got %d", rec.Code)
	}
}

func TestNoFallbackForMissingFileWithExtension(t *testing.T) {
	rec := serve(newTestHandler(t, true), "/missing.css")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for missing file with extension, got %d", rec.Code)
	}
}

func TestMissingDirectoryServes404(t *testing.T) {
	h := NewStaticHandler(afero.NewMemMapFs(), "/nowhere", true)
	if rec := serve(h, "/app.js"); rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}
