package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRoutePattern(t *testing.T) {
	var inside string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			inside = routePattern(req)
		})
	})
	r.Get("/api/v1/files/{id}", func(http.ResponseWriter, *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/0b6f1c2e-5f7a-4a7e-9a43-3c1f2d4e5a6b", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if inside != "/api/v1/files/{id}" {
		t.Errorf("шаблон маршрута: хотели /api/v1/files/{id}, получили %q", inside)
	}

	if got := routePattern(req); got != unmatchedRoute {
		t.Errorf("запрос вне роутера: хотели %s, получили %q", unmatchedRoute, got)
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("ok"))
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))

		out := buf.String()
		if !strings.Contains(out, tt.level) {
			t.Errorf("статус %d: ожидался %s в %q", tt.status, tt.level, out)
		}
		if !strings.Contains(out, "bytes=2") {
			t.Errorf("размер ответа не записан: %q", out)
		}
	}
}
