// Package middleware provides Gin HTTP middleware for authentication, principal
// checks, rate limiting, security headers, request ids, metrics and audit logging.
//
// Ordering is fixed in the router:
//
//	RequestID → Metrics → Logger → Security → RateLimit → Auth → RequirePrincipal → Audit → Handler
//
// Rate limiting runs before auth so login brute force is throttled before any
// bcrypt work. Auth resolves the caller to an auth.Principal exactly once; every
// later layer reads that value instead of re-parsing the token.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/auth"
)

// PrincipalKey is the gin.Context key holding the authenticated auth.Principal.
const PrincipalKey = "principal"

// AuthMiddleware requires a valid bearer JWT and stores the caller's principal.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		setPrincipal(c, claims.Principal())
		c.Next()
	}
}

// OptionalAuthMiddleware stores the principal when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := auth.ExtractBearerToken(c.GetHeader("Authorization")); err == nil {
			if claims, err := auth.ValidateJWT(token); err == nil {
				setPrincipal(c, claims.Principal())
			}
		}
		c.Next()
	}
}

func setPrincipal(c *gin.Context, p auth.Principal) {
	c.Set(PrincipalKey, p)
	c.Set("auth_method", "jwt")
}

// PrincipalFrom returns the principal stored by AuthMiddleware.
func PrincipalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}
