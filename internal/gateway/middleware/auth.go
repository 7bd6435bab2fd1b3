package middleware

import (
	"net/http"
	"strings"

	"extranet-system/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
	ctxIsStaff  = "is_staff"
)

func abort(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
		"error":   code,
	})
}

// JWTAuth requires a valid "Authorization: Bearer <token>" header and
// exposes the token claims to the handlers.
func JWTAuth(tokens *utils.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token", "UNAUTHORIZED")
			return
		}

		claims, err := tokens.ParseToken(strings.TrimSpace(raw))
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid or expired token", "UNAUTHORIZED")
			return
		}

		c.Set(ctxUserID, claims.UserId)
		c.Set(ctxUsername, claims.Username)
		c.Set(ctxIsStaff, claims.IsStaff)
		c.Next()
	}
}

// StaffOnly must run after JWTAuth.
func StaffOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxIsStaff) {
			abort(c, http.StatusForbidden, "administrator access required", "FORBIDDEN")
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

func Username(c *gin.Context) string {
	return c.GetString(ctxUsername)
}
