package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrgIDFromContext(t *testing.T) {
	got, ok := OrgIDFromContext(WithOrgID(context.Background(), " org-123 "))
	assert.True(t, ok)
	assert.Equal(t, "org-123", got)

	_, ok = OrgIDFromContext(context.Background())
	assert.False(t, ok, "background context is unscoped")

	_, ok = OrgIDFromContext(WithOrgID(context.Background(), ""))
	assert.False(t, ok, "blank org leaves context unscoped")
}

func TestCanAccess(t *testing.T) {
	scoped := WithOrgID(context.Background(), "org-1")

	tests := []struct {
		name  string
		ctx   context.Context
		orgID string
		want  bool
	}{
		{"unscoped sees any clinic", context.Background(), "org-9", true},
		{"own clinic", scoped, "org-1", true},
		{"own clinic padded", scoped, " org-1", true},
		{"other clinic", scoped, "org-2", false},
		{"blank target", scoped, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.ctx, tt.orgID))
		})
	}
}
