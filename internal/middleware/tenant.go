package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/apietl/internal/auth"
)

// TenantHeader scopes a request to a single tenant.
const TenantHeader = "X-Tenant-ID"

// TenantScope stores the tenant named by TenantHeader in the request context.
// Requests without the header are unscoped; a malformed value is rejected.
func TenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(TenantHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid "+TenantHeader+" header", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithTenantID(r.Context(), id)))
	})
}
