// Package auth verifies bearer tokens for the Curator API.
//
// # Overview
//
// This package implements stateless JWT verification: tokens are signed
// with a shared HMAC secret by an external identity provider, and Curator
// only validates them. There is no login flow and no token issuance here.
// Verified claims are cached so hot tokens skip signature checks.
//
// # Key Components
//
// Verifier: Parses and validates HS256 tokens
//
//	verifier, err := auth.NewVerifier(auth.Config{
//		Secret:    cfg.Auth.JWTSecret,
//		Issuer:    cfg.Auth.Issuer,
//		Audience:  cfg.Auth.Audience,
//		CacheSize: cfg.Auth.TokenCacheSize,
//		CacheTTL:  cfg.Auth.TokenCacheTTL,
//	}, logger, metrics)
//
//	claims, err := verifier.Verify(tokenString)
//	if err != nil {
//		// errors.Is against ErrMissingToken, ErrInvalidToken, ErrExpiredToken
//	}
//	userID := claims.UserID()
//
// Claims: The token payload Curator cares about
//
//	type Claims struct {
//		Email string
//		Name  string
//		jwt.RegisteredClaims
//	}
//
// The subject claim is the user ID and must be non-empty. Expiry is
// mandatory; a 30 second leeway absorbs clock skew between the issuer
// and this service. Issuer and audience are only enforced when they are
// configured.
//
// # Claims Cache
//
// Verified claims are kept in a bounded TTL cache keyed by the SHA-256
// of the raw token, so the token itself is never held in memory longer
// than the request. A cached entry whose token lifetime has ended is
// evicted and reported as expired, regardless of remaining cache TTL.
// Setting CacheSize to zero disables caching.
//
// # Extracting Tokens
//
// ExtractBearerToken pulls the token out of an Authorization header:
//
//	token, err := auth.ExtractBearerToken(r)
//
// The scheme match is case-insensitive per RFC 7235.
//
// # Related Packages
//
//   - pkg/rbac: Authorization middleware that calls Verify on every request
//   - pkg/config: Maps CURATOR_JWT_* environment variables to auth.Config
//   - pkg/observability: Token cache hit/miss counters
package auth
