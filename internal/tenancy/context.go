// Package tenancy carries the caller's clinic scope through request contexts.
// A context with no org is unscoped and may act on any clinic.
package tenancy

import (
	"context"
	"strings"
)

type scopeKey struct{}

// WithOrgID scopes ctx to a single clinic. Blank ids leave ctx unscoped.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, strings.TrimSpace(orgID))
}

// OrgIDFromContext returns the clinic ctx is scoped to.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	orgID, _ := ctx.Value(scopeKey{}).(string)
	return orgID, orgID != ""
}

// CanAccess reports whether ctx may act on orgID.
func CanAccess(ctx context.Context, orgID string) bool {
	scoped, ok := OrgIDFromContext(ctx)
	return !ok || scoped == strings.TrimSpace(orgID)
}
