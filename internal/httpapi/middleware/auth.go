package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/valmeras/chat-gateway/internal/auth"
	"github.com/valmeras/chat-gateway/internal/common"
)

const UserIDKey = "auth_user_id"

// AuthRequired rejects requests without a valid bearer token. Routes open
// to guests use the identity resolver instead.
func AuthRequired(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "unauthorized")
			c.Abort()
			return
		}
		uid, err := auth.ParseJWT(strings.TrimPrefix(header, "Bearer "), jwtSecret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "invalid token")
			c.Abort()
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}
