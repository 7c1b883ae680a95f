package rbac

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/auth"
	"github.com/curatorhq/curator/pkg/contextkeys"
	"github.com/curatorhq/curator/pkg/httputil"
	"github.com/curatorhq/curator/pkg/observability"
)

const mwSecret = "mw-test-secret"

func mintTestToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": userID + "@example.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(mwSecret))
	require.NoError(t, err)
	return signed
}

func newTestMiddleware(t *testing.T, svc *Service, metrics *observability.Metrics) *Middleware {
	t.Helper()
	verifier, err := auth.NewVerifier(auth.Config{Secret: mwSecret}, quietLogger(), nil)
	require.NoError(t, err)
	return NewMiddleware(svc, verifier, quietLogger(), metrics)
}

func authedRequest(method, target, token, tenant string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	return req
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_Precheck_Unauthorized(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	handler := mw.RequireMember()(okHandler())

	// No credentials at all
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/roles", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeErrorBody(t, rec).Error)

	// Garbage token
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/roles", "not-a-token", "acme", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong signing key
	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/roles", bad, "acme", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_Precheck_TenantRequired(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	handler := mw.RequireMember()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/roles", mintTestToken(t, "alice"), "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tenant_required", decodeErrorBody(t, rec).Error)
}

func TestMiddleware_Precheck_NonMemberForbidden(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	handler := mw.RequireMember()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/roles", mintTestToken(t, "alice"), "acme", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeErrorBody(t, rec)
	assert.Equal(t, "forbidden", resp.Error)
	assert.Equal(t, "not a member of this tenant", resp.Message)
}

func TestMiddleware_RequireMember_SetsIdentity(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	require.NoError(t, svc.AddTenantMember(context.Background(), "alice", "acme"))

	var got *AuthContext
	var ctxUser, ctxTenant string
	handler := mw.RequireMember()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthContext(r)
		ctxUser = contextkeys.GetUserID(r.Context())
		ctxTenant = contextkeys.GetTenant(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/permissions/check", mintTestToken(t, "alice"), "acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "alice", ctxUser)
	assert.Equal(t, "acme", ctxTenant)
}

func TestMiddleware_GlobalRoleBypassesMembership(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	ctx := context.Background()

	op, err := svc.CreateRole(ctx, SystemTenantID, RoleInput{Name: "operator", IsGlobal: true})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(ctx, "root", SystemTenantID, op.ID))

	handler := mw.RequireMember()(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/permissions/check", mintTestToken(t, "root"), "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RequirePermission(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	ctx := context.Background()

	editor, err := svc.CreateRole(ctx, "acme", RoleInput{
		Name:        "editor",
		Permissions: []Permission{perm(ResourceContent, ActionRead, ActionUpdate)},
	})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(ctx, "alice", "acme", editor.ID))
	token := mintTestToken(t, "alice")

	var roles []*Role
	allowed := mw.RequirePermission(ResourceContent, ActionUpdate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roles = GetAuthContext(r).Roles
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	allowed.ServeHTTP(rec, authedRequest("PUT", "/api/v1/content", token, "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Effective roles ride the request so handlers do not re-resolve them
	require.Len(t, roles, 1)
	assert.Equal(t, editor.ID, roles[0].ID)

	denied := mw.RequirePermission(ResourceContent, ActionDelete)(okHandler())
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, authedRequest("DELETE", "/api/v1/content", token, "acme", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeErrorBody(t, rec)
	assert.Equal(t, "forbidden", resp.Error)
	assert.Equal(t, "missing permission content:delete", resp.Message)
}

func TestMiddleware_RequirePermission_GlobalRole(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	ctx := context.Background()

	op, err := svc.CreateRole(ctx, SystemTenantID, RoleInput{
		Name:        "operator",
		IsGlobal:    true,
		Permissions: []Permission{perm(ResourceContent, ActionDelete)},
	})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(ctx, "root", SystemTenantID, op.ID))

	// Not a member of acme, but the global role carries both the gate and
	// the permission
	handler := mw.RequirePermission(ResourceContent, ActionDelete)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("DELETE", "/api/v1/content", mintTestToken(t, "root"), "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RequirePermission_OtherTenantRoleDoesNotCount(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	ctx := context.Background()

	strong, err := svc.CreateRole(ctx, "globex", RoleInput{
		Name:        "globex-admin",
		Permissions: []Permission{perm(ResourceContent, ActionUpdate)},
	})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(ctx, "alice", "globex", strong.ID))
	require.NoError(t, svc.AddTenantMember(ctx, "alice", "acme"))

	handler := mw.RequirePermission(ResourceContent, ActionUpdate)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("PUT", "/api/v1/content", mintTestToken(t, "alice"), "acme", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_RequireAnyPermission(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	ctx := context.Background()

	viewer, err := svc.CreateRole(ctx, "acme", RoleInput{
		Name:        "viewer",
		Permissions: []Permission{perm(ResourceContent, ActionRead)},
	})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(ctx, "alice", "acme", viewer.ID))
	token := mintTestToken(t, "alice")

	pass := mw.RequireAnyPermission(ResourceContent, ActionUpdate, ActionRead)(okHandler())
	rec := httptest.NewRecorder()
	pass.ServeHTTP(rec, authedRequest("GET", "/api/v1/content", token, "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	deny := mw.RequireAnyPermission(ResourceContent, ActionUpdate, ActionDelete)(okHandler())
	rec = httptest.NewRecorder()
	deny.ServeHTTP(rec, authedRequest("GET", "/api/v1/content", token, "acme", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "requires one of: content:update, content:delete", decodeErrorBody(t, rec).Message)
}

func TestMiddleware_RequireAllPermissions(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	ctx := context.Background()

	editor, err := svc.CreateRole(ctx, "acme", RoleInput{
		Name:        "editor",
		Permissions: []Permission{perm(ResourceContent, ActionRead, ActionUpdate)},
	})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(ctx, "alice", "acme", editor.ID))
	token := mintTestToken(t, "alice")

	pass := mw.RequireAllPermissions(ResourceContent, ActionRead, ActionUpdate)(okHandler())
	rec := httptest.NewRecorder()
	pass.ServeHTTP(rec, authedRequest("PUT", "/api/v1/content", token, "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	deny := mw.RequireAllPermissions(ResourceContent, ActionRead, ActionDelete, ActionPublish)(okHandler())
	rec = httptest.NewRecorder()
	deny.ServeHTTP(rec, authedRequest("PUT", "/api/v1/content", token, "acme", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeErrorBody(t, rec)
	assert.Equal(t, "missing required permissions", resp.Message)
	assert.Equal(t, "content:delete, content:publish", resp.Details["missing_permissions"])
}

// pageEditor creates a role limited to one content instance and assigns it.
func pageEditor(t *testing.T, svc *Service, userID string) {
	t.Helper()
	role, err := svc.CreateRole(context.Background(), "acme", RoleInput{
		Name: "page-editor",
		Permissions: []Permission{{
			Resource:    ResourceContent,
			Actions:     []string{ActionUpdate},
			ResourceIDs: []string{"landing-page"},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleToUser(context.Background(), userID, "acme", role.ID))
}

func TestMiddleware_RequireResourcePermission_Query(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	pageEditor(t, svc, "alice")
	token := mintTestToken(t, "alice")

	handler := mw.RequireResourcePermission(ResourceContent, ActionUpdate, "content_id")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/content?content_id=landing-page", token, "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/content?content_id=pricing-page", token, "acme", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_RequireResourcePermission_BodyRestored(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	pageEditor(t, svc, "alice")
	token := mintTestToken(t, "alice")

	var seen string
	handler := mw.RequireResourcePermission(ResourceContent, ActionUpdate, "content_id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	payload := `{"content_id":"landing-page","title":"Hello"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("PUT", "/api/v1/content", token, "acme", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	// The body peek is invisible to the handler
	assert.Equal(t, payload, seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("PUT", "/api/v1/content", token, "acme",
		strings.NewReader(`{"content_id":"pricing-page"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_RequireResourcePermission_PathSegment(t *testing.T) {
	svc := newTestService(t)
	mw := newTestMiddleware(t, svc, nil)
	pageEditor(t, svc, "alice")
	token := mintTestToken(t, "alice")

	handler := mw.RequireResourcePermission(ResourceContent, ActionUpdate, "content_id")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/content/landing-page", token, "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/content/pricing-page", token, "acme", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A short trailing segment is not mistaken for an instance ID, so the
	// check runs at the type level and the restricted grant passes
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/content", token, "acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RecordsDecisions(t *testing.T) {
	svc := newTestService(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	mw := newTestMiddleware(t, svc, metrics)

	require.NoError(t, svc.AddTenantMember(context.Background(), "alice", "acme"))
	handler := mw.RequireMember()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/permissions/check", mintTestToken(t, "alice"), "acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/permissions/check", mintTestToken(t, "mallory"), "acme", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthzChecksTotal.WithLabelValues("allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthzChecksTotal.WithLabelValues("deny")))
}

func TestGetAuthContext_Absent(t *testing.T) {
	assert.Nil(t, GetAuthContext(httptest.NewRequest("GET", "/", nil)))
}
