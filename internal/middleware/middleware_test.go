package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/apietl/internal/auth"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTenantScope(t *testing.T) {
	var (
		gotID  int64
		scoped bool
	)
	handler := TenantScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, scoped = auth.TenantIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/scraps", nil)
	req.Header.Set(TenantHeader, "42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !scoped || gotID != 42 {
		t.Fatalf("expected tenant 42 in context, got %d (%v)", gotID, scoped)
	}

	scoped = false
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scraps", nil))
	if scoped {
		t.Fatal("expected unscoped request without header")
	}

	bad := httptest.NewRequest(http.MethodGet, "/scraps", nil)
	bad.Header.Set(TenantHeader, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed header, got %d", rec.Code)
	}
}

func TestLoggingRecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.(http.Flusher).Flush()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/scraps", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) || fields["path"] != "/scraps" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
