package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/curatorhq/curator/pkg/observability"
)

// ClockSkewLeeway is tolerated on exp and nbf validation.
const ClockSkewLeeway = 30 * time.Second

// Config controls token verification.
type Config struct {
	// Secret is the HMAC key tokens are signed with.
	Secret string
	// Issuer must match the iss claim when non-empty.
	Issuer string
	// Audience must appear in the aud claim when non-empty.
	Audience string
	// CacheSize is the maximum number of verified-claims cache entries.
	// Zero disables the cache.
	CacheSize int
	// CacheTTL bounds how long a verified token skips re-verification.
	CacheTTL time.Duration
}

// Verifier validates HS256 bearer tokens and caches verified claims so hot
// tokens skip signature checks. Tokens are cached under their SHA-256 hash,
// never in plaintext.
type Verifier struct {
	secret  []byte
	parser  *jwt.Parser
	cache   *lru.LRU[string, *Claims]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewVerifier builds a verifier. logger and metrics may be nil.
func NewVerifier(cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(ClockSkewLeeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	v := &Verifier{
		secret:  []byte(cfg.Secret),
		parser:  jwt.NewParser(opts...),
		logger:  logger.WithComponent("auth"),
		metrics: metrics,
	}
	if cfg.CacheSize > 0 {
		v.cache = lru.NewLRU[string, *Claims](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return v, nil
}

// Verify parses and validates a bearer token, returning its claims. Errors
// are the package sentinels; the parse detail is logged at debug and never
// propagated.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	key := hashToken(tokenString)
	if v.cache != nil {
		if claims, ok := v.cache.Get(key); ok {
			// The cache TTL can outlive the token. Expired entries are
			// evicted, not served.
			if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time.Add(ClockSkewLeeway)) {
				v.cache.Remove(key)
				return nil, ErrExpiredToken
			}
			v.recordCacheHit()
			return claims, nil
		}
		v.recordCacheMiss()
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		v.logger.WithError(err).Debug("token verification failed")
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	if v.cache != nil {
		v.cache.Add(key, claims)
	}
	return claims, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return v.secret, nil
}

func (v *Verifier) recordCacheHit() {
	if v.metrics != nil {
		v.metrics.TokenCacheHits.Inc()
	}
}

func (v *Verifier) recordCacheMiss() {
	if v.metrics != nil {
		v.metrics.TokenCacheMisses.Inc()
	}
}

// CacheLen reports the number of cached verified tokens.
func (v *Verifier) CacheLen() int {
	if v.cache == nil {
		return 0
	}
	return v.cache.Len()
}

// hashToken computes the SHA-256 cache key for a raw token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken pulls the token out of the Authorization header. The
// scheme match is case-insensitive. Returns ErrMissingToken when no header
// is present and ErrInvalidToken when the header is not a bearer credential.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
