package rbac

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/curatorhq/curator/pkg/httputil"
	"github.com/curatorhq/curator/pkg/observability"
)

// Handlers provides the tenant-scoped role administration API. Every route
// runs behind the authorization middleware, so handlers read their identity
// from the auth context only.
type Handlers struct {
	svc    *Service
	logger *observability.Logger
}

// NewHandlers creates the role API handlers.
func NewHandlers(svc *Service, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		svc:    svc,
		logger: logger.WithComponent("api"),
	}
}

// RegisterRoutes wires the role API under /api/v1, each route guarded by
// the middleware variant matching its semantics.
func (h *Handlers) RegisterRoutes(router *mux.Router, mw *Middleware) {
	// Role management. Listing is open to assigners too, since assigning
	// requires enumerating the candidate roles. Deleting cascades into every
	// member's assignment set, so it needs delete and assign both.
	router.Handle("/api/v1/roles", mw.RequirePermission(ResourceRole, ActionCreate)(http.HandlerFunc(h.CreateRole))).Methods("POST")
	router.Handle("/api/v1/roles", mw.RequireAnyPermission(ResourceRole, ActionRead, ActionAssign)(http.HandlerFunc(h.ListRoles))).Methods("GET")
	router.Handle("/api/v1/roles/{id}", mw.RequirePermission(ResourceRole, ActionRead)(http.HandlerFunc(h.GetRole))).Methods("GET")
	router.Handle("/api/v1/roles/{id}", mw.RequirePermission(ResourceRole, ActionUpdate)(http.HandlerFunc(h.UpdateRole))).Methods("PUT")
	router.Handle("/api/v1/roles/{id}", mw.RequireAllPermissions(ResourceRole, ActionDelete, ActionAssign)(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")
	router.Handle("/api/v1/roles/{id}/users", mw.RequirePermission(ResourceRole, ActionRead)(http.HandlerFunc(h.GetRoleUsers))).Methods("GET")

	// User role assignments
	router.Handle("/api/v1/users/{id}/roles", mw.RequireResourcePermission(ResourceRole, ActionAssign, "role_id")(http.HandlerFunc(h.AssignRole))).Methods("POST")
	router.Handle("/api/v1/users/{id}/roles", mw.RequirePermission(ResourceRole, ActionRead)(http.HandlerFunc(h.GetUserRoles))).Methods("GET")
	router.Handle("/api/v1/users/{id}/roles/{role_id}", mw.RequireResourcePermission(ResourceRole, ActionAssign, "role_id")(http.HandlerFunc(h.UnassignRole))).Methods("DELETE")

	// Permission checking
	router.Handle("/api/v1/permissions/check", mw.RequireMember()(http.HandlerFunc(h.CheckPermission))).Methods("GET")
}

// CreateRole creates a role in the request tenant.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req RoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	role, err := h.svc.CreateRole(r.Context(), authCtx.TenantID, req)
	if err != nil {
		h.serviceError(w, err, "create role failed")
		return
	}
	httputil.WriteCreated(w, role)
}

// ListRoles lists the request tenant's roles.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	roles, err := h.svc.GetRolesByTenant(r.Context(), authCtx.TenantID)
	if err != nil {
		h.serviceError(w, err, "list roles failed")
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole fetches one role.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}
	roleID := mux.Vars(r)["id"]

	role, err := h.svc.GetRole(r.Context(), authCtx.TenantID, roleID)
	if err != nil {
		h.serviceError(w, err, "get role failed")
		return
	}
	if role == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole applies a partial update. The body may not change id or
// tenant_id.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}
	roleID := mux.Vars(r)["id"]

	var req struct {
		ID       *string `json:"id"`
		TenantID *string `json:"tenant_id"`
		RoleUpdate
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ID != nil && *req.ID != roleID {
		httputil.WriteError(w, http.StatusBadRequest, "immutable_field", fmt.Errorf("%w: id", ErrImmutableField).Error())
		return
	}
	if req.TenantID != nil && *req.TenantID != authCtx.TenantID {
		httputil.WriteError(w, http.StatusBadRequest, "immutable_field", fmt.Errorf("%w: tenant_id", ErrImmutableField).Error())
		return
	}

	role, err := h.svc.UpdateRole(r.Context(), authCtx.TenantID, roleID, req.RoleUpdate)
	if err != nil {
		h.serviceError(w, err, "update role failed")
		return
	}
	if role == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole cascade-deletes a role.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}
	roleID := mux.Vars(r)["id"]

	deleted, err := h.svc.DeleteRole(r.Context(), authCtx.TenantID, roleID)
	if err != nil {
		h.serviceError(w, err, "delete role failed")
		return
	}
	if !deleted {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}
	httputil.WriteNoContent(w)
}

// GetRoleUsers lists the users holding a role.
func (h *Handlers) GetRoleUsers(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}
	roleID := mux.Vars(r)["id"]

	role, err := h.svc.GetRole(r.Context(), authCtx.TenantID, roleID)
	if err != nil {
		h.serviceError(w, err, "get role failed")
		return
	}
	if role == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}

	users, err := h.svc.GetUsersWithRole(r.Context(), authCtx.TenantID, roleID)
	if err != nil {
		h.serviceError(w, err, "list role users failed")
		return
	}
	httputil.WriteSuccess(w, users)
}

// AssignRole grants a role to the user named in the path.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}
	userID := mux.Vars(r)["id"]

	var req struct {
		RoleID string `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID == "" {
		httputil.WriteValidationError(w, "role_id is required")
		return
	}

	err := h.svc.AssignRoleToUser(r.Context(), userID, authCtx.TenantID, req.RoleID)
	if errors.Is(err, ErrRoleNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}
	if err != nil {
		h.serviceError(w, err, "assign role failed")
		return
	}
	httputil.WriteCreated(w, map[string]string{
		"user_id":   userID,
		"tenant_id": authCtx.TenantID,
		"role_id":   req.RoleID,
	})
}

// UnassignRole revokes a role; revoking an absent assignment succeeds.
func (h *Handlers) UnassignRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	if err := h.svc.RemoveRoleFromUser(r.Context(), vars["id"], authCtx.TenantID, vars["role_id"]); err != nil {
		h.serviceError(w, err, "unassign role failed")
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserRoles lists the roles the named user holds in the request tenant.
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}
	userID := mux.Vars(r)["id"]

	roles, err := h.svc.GetUserRoles(r.Context(), userID, authCtx.TenantID)
	if err != nil {
		h.serviceError(w, err, "list user roles failed")
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CheckPermission reports whether the caller's own identity holds the named
// permission in the request tenant.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	resource := httputil.QueryParam(r, "resource", "")
	action := httputil.QueryParam(r, "action", "")
	if resource == "" || action == "" {
		httputil.WriteValidationError(w, "resource and action are required")
		return
	}

	allowed, err := h.svc.HasPermission(r.Context(), authCtx.UserID, authCtx.TenantID, resource, action, httputil.QueryParam(r, "resource_id", ""))
	if err != nil {
		h.serviceError(w, err, "permission check failed")
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"allowed": allowed})
}

func requireAuth(w http.ResponseWriter, r *http.Request) (*AuthContext, bool) {
	authCtx := GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing auth context")
		return nil, false
	}
	return authCtx, true
}

// serviceError keeps the failure detail out of the response body.
func (h *Handlers) serviceError(w http.ResponseWriter, err error, msg string) {
	h.logger.WithError(err).Error(msg)
	httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
}
