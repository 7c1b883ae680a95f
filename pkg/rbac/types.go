package rbac

import (
	"errors"
	"time"
)

// Sentinel errors. Callers branch with errors.Is; the handlers map them to
// HTTP statuses (404, 400, 400 respectively).
var (
	// ErrRoleNotFound indicates an assignment referenced a role that does not
	// exist in the tenant. Lookups report absence with (nil, nil) instead.
	ErrRoleNotFound = errors.New("rbac: role not found")

	// ErrTenantRequired indicates an operation was called without a tenant ID.
	ErrTenantRequired = errors.New("rbac: tenant id is required")

	// ErrImmutableField indicates an update tried to change a field that is
	// fixed at creation (ID, TenantID, CreatedAt).
	ErrImmutableField = errors.New("rbac: field is immutable")
)

// Resource types the directory manages
const (
	ResourceContent    = "content"
	ResourceCollection = "collection"
	ResourceRole       = "role"
	ResourceTenant     = "tenant"
)

// Actions that can be performed on a resource
const (
	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionPublish = "publish"
	ActionAssign  = "assign"
)

// Permission grants a set of actions on a resource type. An empty
// ResourceIDs list covers every instance of the type; a non-empty list
// restricts the grant to the named instances.
type Permission struct {
	Resource    string   `json:"resource" yaml:"resource"`
	Actions     []string `json:"actions" yaml:"actions"`
	ResourceIDs []string `json:"resource_ids,omitempty" yaml:"resource_ids,omitempty"`
}

// Covers reports whether this permission entry grants action on resource,
// optionally narrowed to a specific resource instance.
func (p Permission) Covers(resource, action, resourceID string) bool {
	if p.Resource != resource {
		return false
	}
	granted := false
	for _, a := range p.Actions {
		if a == action {
			granted = true
			break
		}
	}
	if !granted {
		return false
	}
	if resourceID == "" || len(p.ResourceIDs) == 0 {
		return true
	}
	for _, id := range p.ResourceIDs {
		if id == resourceID {
			return true
		}
	}
	return false
}

// Role is a named bundle of permissions owned by a tenant. A global role
// participates in permission checks for every tenant, not just its own.
type Role struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	IsGlobal    bool         `json:"is_global"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Grants reports whether any of the role's permissions covers
// (resource, action), optionally narrowed to resourceID.
func (r *Role) Grants(resource, action, resourceID string) bool {
	for _, p := range r.Permissions {
		if p.Covers(resource, action, resourceID) {
			return true
		}
	}
	return false
}

// RoleInput carries the caller-supplied fields for role creation.
type RoleInput struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	IsGlobal    bool         `json:"is_global"`
}

// RoleUpdate is a partial update: nil fields are left unchanged. ID,
// TenantID and CreatedAt cannot be updated.
type RoleUpdate struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Permissions *[]Permission `json:"permissions,omitempty"`
	IsGlobal    *bool         `json:"is_global,omitempty"`
}
