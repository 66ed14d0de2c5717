package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/clinic-voice-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-voice-platform/internal/tenancy"
)

// scopeToTokenOrg confines clinic-scoped admin tokens to their own org and
// exposes that org to downstream handlers. Operator tokens pass through.
func scopeToTokenOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := httpmiddleware.AdminClaimsFromContext(r.Context())
		orgID := ""
		if ok {
			orgID = strings.TrimSpace(claims.OrgID)
		}
		if orgID == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := tenancy.WithOrgID(r.Context(), orgID)
		if param := chi.URLParam(r, "orgID"); param != "" && !tenancy.CanAccess(ctx, param) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden","message":"token is scoped to another clinic"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
