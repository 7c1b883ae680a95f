package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "role:acme:r1", roleKey("acme", "r1"))
	assert.Equal(t, "role:acme:*", rolePattern("acme"))
	assert.Equal(t, "role:*", allRolesPattern())
	assert.Equal(t, "user:roles:alice:acme", userRolesKey("alice", "acme"))
	assert.Equal(t, "user:roles:alice:*", userRolesPattern("alice"))
	assert.Equal(t, "user:roles:*", allAssignmentsPattern())
	assert.Equal(t, "tenant:users:acme", tenantUsersKey("acme"))
	assert.Equal(t, "tenant:users:*", allTenantUsersPattern())
}

func TestParseAssignmentKey(t *testing.T) {
	tests := []struct {
		key        string
		wantUser   string
		wantTenant string
		wantOK     bool
	}{
		{"user:roles:alice:acme", "alice", "acme", true},
		{"user:roles:u-123:t-456", "u-123", "t-456", true},
		{"user:roles:alice", "", "", false},
		{"user:roles:alice:acme:extra", "", "", false},
		{"user:roles::acme", "", "", false},
		{"user:roles:alice:", "", "", false},
		{"role:acme:r1", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		userID, tenantID, ok := parseAssignmentKey(tt.key)
		assert.Equal(t, tt.wantOK, ok, "key %q", tt.key)
		assert.Equal(t, tt.wantUser, userID, "key %q", tt.key)
		assert.Equal(t, tt.wantTenant, tenantID, "key %q", tt.key)
	}
}

func TestParseTenantUsersKey(t *testing.T) {
	tenantID, ok := parseTenantUsersKey("tenant:users:acme")
	assert.True(t, ok)
	assert.Equal(t, "acme", tenantID)

	_, ok = parseTenantUsersKey("tenant:users:")
	assert.False(t, ok)

	_, ok = parseTenantUsersKey("tenant:users:acme:extra")
	assert.False(t, ok)

	_, ok = parseTenantUsersKey("user:roles:alice:acme")
	assert.False(t, ok)
}
