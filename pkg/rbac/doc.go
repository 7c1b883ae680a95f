// Package rbac provides role-based access control for the Curator content directory.
//
// # Overview
//
// This package implements multi-tenant RBAC over the key-value store: roles are
// named permission sets owned by a tenant, users hold roles per tenant, and a
// small set of global roles grants platform operators access everywhere. It
// also ships the HTTP middleware that gates every API route, the seeder that
// installs built-in roles, and the sweeper that repairs index drift.
//
// # Architecture
//
// The RBAC system consists of five key components:
//
//  1. Permissions: resource + actions, optionally narrowed to specific resource IDs
//  2. Roles: named collections of permissions, scoped to one tenant
//  3. Assignments: per-tenant bindings of roles to users, with a tenant membership index
//  4. Middleware: request gating (token, tenant header, membership, permission)
//  5. Maintenance: seeding of built-in roles and integrity sweeps
//
// # Resources and Actions
//
// Resources define what can be controlled:
//
//	ResourceContent     - Content entries
//	ResourceCollection  - Content collections
//	ResourceRole        - Role management
//	ResourceTenant      - Tenant administration
//
// Actions define what can be done:
//
//	ActionCreate   - Create new resource
//	ActionRead     - View resource
//	ActionUpdate   - Modify resource
//	ActionDelete   - Remove resource
//	ActionPublish  - Publish content
//	ActionAssign   - Grant or revoke roles
//
// Permissions combine these, optionally pinned to specific resources:
//
//	perm := rbac.Permission{
//		Resource:    rbac.ResourceContent,
//		Actions:     []string{rbac.ActionRead, rbac.ActionUpdate},
//		ResourceIDs: []string{"landing-page"},
//	}
//
// An empty ResourceIDs list means the permission covers every instance of the
// resource. A non-empty list restricts it to the named instances.
//
// # Keyspace
//
// State lives in three key families (see keys.go):
//
//	role:{tenantID}:{roleID}        - role record, JSON
//	user:roles:{userID}:{tenantID}  - set of role IDs the user holds in the tenant
//	tenant:users:{tenantID}         - set of user IDs with any role in the tenant
//
// The tenant ID is part of every role key, so listing a tenant's roles is a
// prefix scan and no tenant can read another's records through this package.
//
// # Built-In Roles and Seeding
//
// Four built-in roles cover the common access patterns:
//
//	tenant-admin       - full control inside one tenant
//	content-editor     - create, edit and publish content
//	content-viewer     - read-only content access
//	platform-operator  - global role, all permissions in every tenant
//
// The Seeder installs them into the system tenant on startup and can merge
// additional roles from a YAML seed file, re-applying on file change:
//
//	seeder := rbac.NewSeeder(svc, cfg.Seed.Path, logger, metrics)
//	created, updated, err := seeder.Apply(ctx)
//	go seeder.Watch(ctx)
//
// Apply is idempotent: roles are matched by (tenant, name), IDs and creation
// timestamps survive re-seeding, and unchanged roles are skipped.
//
// # Role Assignment
//
// Roles are assigned per tenant, and assignment maintains the membership index:
//
//	err := svc.AssignRoleToUser(ctx, userID, tenantID, roleID)
//	roles, err := svc.GetUserRoles(ctx, userID, tenantID)
//	err = svc.RemoveRoleFromUser(ctx, userID, tenantID, roleID)
//
// Assigning a missing role fails with ErrRoleNotFound. Revoking an assignment
// that does not exist succeeds.
//
// # Global Roles
//
// A role with IsGlobal set grants its permissions in every tenant, not just
// its home tenant. EffectiveRoles resolves both sources for a user:
//
//	roles, err := svc.EffectiveRoles(ctx, userID, tenantID)
//	// roles in the tenant itself, plus global roles held anywhere
//
// Permission evaluation honors the same rule: a role counts toward a tenant's
// check only if it lives in that tenant or is global.
//
// # Permission Checking
//
//	allowed, err := svc.HasPermission(ctx, userID, tenantID, rbac.ResourceContent, rbac.ActionPublish, "")
//
// The check loads the user's effective roles and asks each for a grant. There
// is no deny rule: a permission is allowed if any role covers it.
//
// # HTTP Middleware
//
// The Middleware gates routes in four layers: bearer token, X-Tenant-ID
// header, tenant membership, then the route's permission requirement.
//
//	mw := rbac.NewMiddleware(svc, verifier, logger, metrics)
//
//	router.Handle("/api/v1/roles",
//		mw.RequirePermission(rbac.ResourceRole, rbac.ActionCreate)(createHandler),
//	).Methods("POST")
//
// Variants cover the common shapes: RequireMember (membership only),
// RequirePermission, RequireAnyPermission, RequireAllPermissions, and
// RequireResourcePermission, which resolves the target resource ID from the
// query string, body, or path so instance-scoped permissions apply.
//
// Failures map to:
//
//	401 - missing or invalid bearer token
//	400 - missing X-Tenant-ID header
//	403 - not a tenant member, or missing the required permission
//
// On success the request context carries the validated user and tenant, which
// downstream handlers must use instead of re-reading headers.
//
// # Integrity Sweeps
//
// Assignments and the membership index are written in non-atomic batches, so
// a crash can leave them inconsistent. The Sweeper walks all assignment keys,
// restores missing tenant memberships, prunes assignments that point at
// deleted roles, and reports totals:
//
//	report, err := rbac.NewSweeper(svc, logger, metrics).Sweep(ctx)
//
// The curator-janitor binary runs this on a schedule.
//
// # Testing
//
// Service tests run against a real store backed by miniredis, so set
// semantics and scans behave like production:
//
//	store := setupTestStore(t)
//	svc := rbac.NewService(store, nil, nil)
//
// Middleware tests mint HS256 tokens inline and drive routes through httptest.
//
// # Related Packages
//
//   - pkg/auth: Bearer token verification
//   - pkg/kv: Key-value store facade and engine
//   - pkg/contextkeys: Context keys for the validated identity
//   - pkg/httputil: Response envelopes and base middleware
package rbac
