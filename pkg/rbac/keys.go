package rbac

import (
	"fmt"
	"strings"
)

// Keyspace layout. IDs must not contain ':'; uuid role IDs and slug-style
// tenant/user IDs satisfy this.
//
//	role:{tenantID}:{roleID}          role record (JSON)
//	user:roles:{userID}:{tenantID}    set of role IDs assigned to the user
//	tenant:users:{tenantID}           set of user IDs who are members

const (
	rolePrefix        = "role:"
	userRolesPrefix   = "user:roles:"
	tenantUsersPrefix = "tenant:users:"
)

func roleKey(tenantID, roleID string) string {
	return fmt.Sprintf("%s%s:%s", rolePrefix, tenantID, roleID)
}

func rolePattern(tenantID string) string {
	return fmt.Sprintf("%s%s:*", rolePrefix, tenantID)
}

func allRolesPattern() string {
	return rolePrefix + "*"
}

func userRolesKey(userID, tenantID string) string {
	return fmt.Sprintf("%s%s:%s", userRolesPrefix, userID, tenantID)
}

func userRolesPattern(userID string) string {
	return fmt.Sprintf("%s%s:*", userRolesPrefix, userID)
}

func allAssignmentsPattern() string {
	return userRolesPrefix + "*"
}

func tenantUsersKey(tenantID string) string {
	return tenantUsersPrefix + tenantID
}

func allTenantUsersPattern() string {
	return tenantUsersPrefix + "*"
}

// parseAssignmentKey recovers (userID, tenantID) from an assignment key.
func parseAssignmentKey(key string) (userID, tenantID string, ok bool) {
	rest, found := strings.CutPrefix(key, userRolesPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// parseTenantUsersKey recovers the tenant ID from a membership key.
func parseTenantUsersKey(key string) (tenantID string, ok bool) {
	rest, found := strings.CutPrefix(key, tenantUsersPrefix)
	if !found || rest == "" || strings.Contains(rest, ":") {
		return "", false
	}
	return rest, true
}
