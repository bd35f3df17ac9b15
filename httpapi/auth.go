package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// claimsKey is the gin context key the verified claims are stashed under.
const claimsKey = "httpapi.claims"

// Claims is the bearer capability token payload: a tenant id and an
// optional quota. Quota is parsed but nothing reads it; the Scheduler's
// per-tenant quotas come from configuration.
type Claims struct {
	Tenant string `json:"tenant"`
	Quota  int    `json:"quota,omitempty"`
}

// authMiddleware verifies the Authorization: Bearer <jwt> header against
// cfg.Auth.SigningKey, following the teacher's JWTMiddleware
// (_examples/stake-plus-govcomms/src/api/middleware/jwt.go) almost
// verbatim: same Bearer-prefix check, same jwt.Parse-then-AbortWithStatus
// shape, generalised from a single "addr" claim to the tenant/quota pair
// in Claims. An empty signing key disables verification (local
// development only — Server callers are expected to set one in production).
func (s *Server) authMiddleware() gin.HandlerFunc {
	secret := []byte(s.cfg.Auth.SigningKey)
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Set(claimsKey, Claims{Tenant: "default"})
			c.Next()
			return
		}
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		tok, err := jwt.Parse(h[len("Bearer "):], func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !tok.Valid {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		mc, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		tenant, _ := mc["tenant"].(string)
		if tenant == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		quota := 0
		if q, ok := mc["quota"].(float64); ok {
			quota = int(q)
		}
		c.Set(claimsKey, Claims{Tenant: tenant, Quota: quota})
		c.Next()
	}
}

func claimsFrom(c *gin.Context) Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{Tenant: "default"}
	}
	return v.(Claims)
}

// MintToken issues a bearer capability token for tenant, signed with
// signingKey. Grounded on the teacher's CheckAndDeleteNonce
// (_examples/stake-plus-govcomms/src/api/auth/auth.go), which mints the
// pack's only other HS256 token with the same
// jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{...}).SignedString
// shape. Intended for operator tooling and tests; production deployments
// are expected to mint tokens from an external identity service that shares
// the same signing key.
func MintToken(signingKey []byte, tenant string, quota int, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"tenant": tenant,
		"exp":    time.Now().Add(ttl).Unix(),
	}
	if quota > 0 {
		claims["quota"] = quota
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(signingKey)
}
