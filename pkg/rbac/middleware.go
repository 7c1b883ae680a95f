package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/curatorhq/curator/pkg/auth"
	"github.com/curatorhq/curator/pkg/contextkeys"
	"github.com/curatorhq/curator/pkg/httputil"
	"github.com/curatorhq/curator/pkg/observability"
)

// TenantHeader names the tenant a request operates on.
const TenantHeader = "X-Tenant-ID"

// AuthContext is the validated identity of a request. The middleware
// pre-check sets it once; downstream code must use it instead of re-reading
// headers. Roles holds the effective roles in TenantID and is populated by
// the permission variants.
type AuthContext struct {
	UserID   string
	TenantID string
	Email    string
	Roles    []*Role
}

// GetAuthContext extracts the auth context from the request, or nil when the
// request did not pass the middleware.
func GetAuthContext(r *http.Request) *AuthContext {
	v := r.Context().Value(contextkeys.AuthKey)
	if v == nil {
		return nil
	}
	authCtx, ok := v.(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// Middleware gates requests on bearer identity, tenant membership and role
// permissions. All variants share one pre-check; a request only reaches a
// permission decision after its identity and tenant are validated.
type Middleware struct {
	svc      *Service
	verifier *auth.Verifier
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewMiddleware creates the authorization middleware.
func NewMiddleware(svc *Service, verifier *auth.Verifier, logger *observability.Logger, metrics *observability.Metrics) *Middleware {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Middleware{
		svc:      svc,
		verifier: verifier,
		logger:   logger.WithComponent("authz"),
		metrics:  metrics,
	}
}

// precheck verifies the bearer token, resolves the tenant header and runs
// the tenant-isolation gate: the user must be a member of the tenant or
// hold a global role, regardless of permissions held in other tenants. On
// success the returned request carries the validated identity.
func (m *Middleware) precheck(w http.ResponseWriter, r *http.Request) (*http.Request, *AuthContext, bool) {
	token, err := auth.ExtractBearerToken(r)
	var claims *auth.Claims
	if err == nil {
		claims, err = m.verifier.Verify(token)
	}
	if err != nil {
		m.logger.WithError(err).Debug("bearer verification failed")
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return nil, nil, false
	}

	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "tenant_required", TenantHeader+" header is required")
		return nil, nil, false
	}

	userID := claims.UserID()
	member, err := m.svc.IsTenantMember(r.Context(), userID, tenantID)
	if err != nil {
		m.internalError(w, err, "membership check failed")
		return nil, nil, false
	}
	if !member {
		global, gerr := m.svc.HasGlobalRole(r.Context(), userID)
		if gerr != nil {
			m.internalError(w, gerr, "global role check failed")
			return nil, nil, false
		}
		if !global {
			m.decision("deny")
			httputil.WriteError(w, http.StatusForbidden, "forbidden", "not a member of this tenant")
			return nil, nil, false
		}
	}

	authCtx := &AuthContext{
		UserID:   userID,
		TenantID: tenantID,
		Email:    claims.Email,
	}
	ctx := contextkeys.WithAuth(r.Context(), authCtx)
	ctx = contextkeys.WithUserID(ctx, userID)
	ctx = contextkeys.WithTenant(ctx, tenantID)
	return r.WithContext(ctx), authCtx, true
}

// loadRoles resolves the identity's effective roles once per request and
// stashes them on the auth context.
func (m *Middleware) loadRoles(w http.ResponseWriter, r *http.Request, authCtx *AuthContext) bool {
	roles, err := m.svc.EffectiveRoles(r.Context(), authCtx.UserID, authCtx.TenantID)
	if err != nil {
		m.internalError(w, err, "role resolution failed")
		return false
	}
	authCtx.Roles = roles
	return true
}

// grants evaluates the loaded roles under the tenant-or-global invariant.
func grants(roles []*Role, tenantID, resource, action, resourceID string) bool {
	for _, role := range roles {
		if role.TenantID != tenantID && !role.IsGlobal {
			continue
		}
		if role.Grants(resource, action, resourceID) {
			return true
		}
	}
	return false
}

// RequireMember passes any authenticated tenant member or global role
// holder; no permission beyond the shared pre-check is required.
func (m *Middleware) RequireMember() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, _, ok := m.precheck(w, r)
			if !ok {
				return
			}
			m.decision("allow")
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission requires (resource, action) in the request tenant.
func (m *Middleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, authCtx, ok := m.precheck(w, r)
			if !ok {
				return
			}
			if !m.loadRoles(w, r, authCtx) {
				return
			}
			if !grants(authCtx.Roles, authCtx.TenantID, resource, action, "") {
				m.decision("deny")
				httputil.WriteError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("missing permission %s:%s", resource, action))
				return
			}
			m.decision("allow")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission passes when at least one of the actions is granted
// on the resource.
func (m *Middleware) RequireAnyPermission(resource string, actions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, authCtx, ok := m.precheck(w, r)
			if !ok {
				return
			}
			if !m.loadRoles(w, r, authCtx) {
				return
			}
			for _, action := range actions {
				if grants(authCtx.Roles, authCtx.TenantID, resource, action, "") {
					m.decision("allow")
					next.ServeHTTP(w, r)
					return
				}
			}
			m.decision("deny")
			alts := make([]string, len(actions))
			for i, action := range actions {
				alts[i] = resource + ":" + action
			}
			httputil.WriteError(w, http.StatusForbidden, "forbidden", "requires one of: "+strings.Join(alts, ", "))
		})
	}
}

// RequireAllPermissions passes only when every action is granted; the 403
// names each missing permission.
func (m *Middleware) RequireAllPermissions(resource string, actions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, authCtx, ok := m.precheck(w, r)
			if !ok {
				return
			}
			if !m.loadRoles(w, r, authCtx) {
				return
			}
			var missing []string
			for _, action := range actions {
				if !grants(authCtx.Roles, authCtx.TenantID, resource, action, "") {
					missing = append(missing, resource+":"+action)
				}
			}
			if len(missing) > 0 {
				m.decision("deny")
				httputil.WriteErrorDetails(w, http.StatusForbidden, "forbidden", "missing required permissions",
					map[string]string{"missing_permissions": strings.Join(missing, ", ")})
				return
			}
			m.decision("allow")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireResourcePermission is RequirePermission narrowed to a resource
// instance. The instance ID resolves from the query parameter named param,
// then from the JSON body field named param on mutating methods (the body
// is restored for the handler), then from the trailing path segment when it
// looks like a resource identifier. With no ID the check covers the whole
// resource type.
func (m *Middleware) RequireResourcePermission(resource, action, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, authCtx, ok := m.precheck(w, r)
			if !ok {
				return
			}
			if !m.loadRoles(w, r, authCtx) {
				return
			}
			resourceID := resolveResourceID(r, param)
			if !grants(authCtx.Roles, authCtx.TenantID, resource, action, resourceID) {
				m.decision("deny")
				httputil.WriteError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("missing permission %s:%s", resource, action))
				return
			}
			m.decision("allow")
			next.ServeHTTP(w, r)
		})
	}
}

var (
	uuidPattern    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
	slugPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}$`)
)

func isResourceIdentifier(s string) bool {
	return uuidPattern.MatchString(s) || numericPattern.MatchString(s) || slugPattern.MatchString(s)
}

func resolveResourceID(r *http.Request, param string) string {
	if id := httputil.QueryParam(r, param, ""); id != "" {
		return id
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if id := resourceIDFromBody(r, param); id != "" {
			return id
		}
	}

	path := strings.Trim(r.URL.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	if isResourceIdentifier(path) {
		return path
	}
	return ""
}

// resourceIDFromBody peeks at the JSON body for the param field and restores
// the body so the handler can decode it again.
func resourceIDFromBody(r *http.Request, param string) string {
	if r.Body == nil {
		return ""
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) == 0 {
		return ""
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	switch v := fields[param].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func (m *Middleware) decision(result string) {
	if m.metrics != nil {
		m.metrics.AuthzChecksTotal.WithLabelValues(result).Inc()
	}
}

// internalError keeps the failure detail out of the response body.
func (m *Middleware) internalError(w http.ResponseWriter, err error, msg string) {
	m.decision("error")
	m.logger.WithError(err).Error(msg)
	httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
}
