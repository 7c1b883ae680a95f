// Package httputil provides the HTTP plumbing shared by the API surface.
//
// # Error Contract
//
// Every error body is an ErrorResponse: a stable machine-readable code,
// an optional human message, and optional per-item details.
//
//	httputil.WriteError(w, http.StatusNotFound, "not_found", "role not found")
//	httputil.WriteValidationError(w, "name is required")
//	httputil.WriteTooManyRequests(w, "rate limit exceeded")
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, role)
//	httputil.WriteCreated(w, role)
//	httputil.WriteNoContent(w)
//
// # Request Parsing
//
//	var req RoleInput
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	verbose := httputil.QueryParam(r, "verbose", "false")
//
// # Middleware
//
// Chain applies middlewares outermost-first around a handler:
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//	)(router)
//
// # Related Packages
//
//   - pkg/rbac: authorization middleware and the role administration API
package httputil
