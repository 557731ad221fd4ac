// README: Firebase bearer-token auth and role gates for the admin, operator and system callers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"parkangel/internal/infra"
)

const (
	ctxUID        = "auth.uid"
	ctxRole       = "auth.role"
	ctxOperatorID = "auth.operator_id"
)

// Auth verifies the Authorization bearer token and stores the caller identity
// on the gin context. Requests without a valid token stop with 401.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role := token.Role
		if role == "" {
			role, _ = token.Claims["role"].(string)
		}
		operatorID := token.OperatorID
		if operatorID == "" {
			operatorID, _ = token.Claims["operator_id"].(string)
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, role)
		c.Set(ctxOperatorID, operatorID)
		c.Next()
	}
}

// RequireRole lets the request through only for callers holding one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasRole(c, roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func HasRole(c *gin.Context, roles ...string) bool {
	role := CallerRole(c)
	for _, r := range roles {
		if role != "" && role == r {
			return true
		}
	}
	return false
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// CallerOperatorID is the operator an operator-role caller acts for.
func CallerOperatorID(c *gin.Context) string {
	return c.GetString(ctxOperatorID)
}
