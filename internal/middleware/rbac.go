// rbac.go gates route groups on the kind of principal making the request.
//
// The kind is read from the JWT once; the services re-check ownership and role
// for every operation, so these guards only keep obviously wrong callers away
// from a route group.

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/auth"
)

// RequirePrincipal aborts with 401 when no principal is present and 403 when
// the principal is not one of kinds. With no kinds any authenticated caller passes.
func RequirePrincipal(kinds ...auth.Kind) gin.HandlerFunc {
	allowed := make([]string, len(kinds))
	for i, k := range kinds {
		allowed[i] = string(k)
	}
	detail := strings.Join(allowed, ", ")

	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required"})
			return
		}

		if len(kinds) > 0 && !p.Is(kinds...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"message": "Insufficient permissions",
				"details": "Required principal: " + detail,
			})
			return
		}

		c.Next()
	}
}
