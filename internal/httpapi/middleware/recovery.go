package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/valmeras/chat-gateway/internal/common"
)

// Recovery downgrades panics to a generic offline response; internals are
// logged with the correlation id, never sent to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Recovery] panic request_id=%s err=%v", RequestIDFrom(c), r)
				common.Fail(c, http.StatusServiceUnavailable,
					common.KindOffline.BusinessCode(), "something went wrong, please try again later")
				c.Abort()
			}
		}()
		c.Next()
	}
}
