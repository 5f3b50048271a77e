package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/valmeras/chat-gateway/internal/catalog"
	"github.com/valmeras/chat-gateway/internal/chat"
	"github.com/valmeras/chat-gateway/internal/common"
	"github.com/valmeras/chat-gateway/internal/config"
	"github.com/valmeras/chat-gateway/internal/httpapi/handlers"
	"github.com/valmeras/chat-gateway/internal/httpapi/middleware"
	"github.com/valmeras/chat-gateway/internal/identity"
	"github.com/valmeras/chat-gateway/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, cat *catalog.Catalog, svc *chat.Service, streams *redisstore.Store) *gin.Engine {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), middleware.RequestID(), middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, common.KindNotFound.BusinessCode(), "not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, common.KindNotFound.BusinessCode(), "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, cat, svc, streams)

	r.GET("/ping", func(c *gin.Context) {
		common.OK(c, gin.H{"message": "pong"})
	})
	r.GET("/models", h.ListModels)

	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	me := r.Group("/me", middleware.AuthRequired(cfg.JWTSecret))
	{
		me.GET("", h.Me)
		me.PATCH("", h.UpdateMe)
	}

	// Chat routes are open to guests; the resolver mints a guest cookie
	// for anonymous callers.
	resolver := identity.NewResolver(db, cfg.JWTSecret, cfg.Production())
	chatGroup := r.Group("/", resolver.Middleware())
	{
		chatGroup.POST("/chat", h.PostChat)
		chatGroup.DELETE("/chat", h.DeleteChat)
		chatGroup.GET("/chat/:id/messages", h.ListChatMessages)
		chatGroup.PATCH("/chat/:id/visibility", h.UpdateChatVisibility)
		chatGroup.POST("/messages/:id/moderate", h.ModerateMessage)
		chatGroup.DELETE("/messages/:id", h.DeleteTrailingMessages)
		chatGroup.GET("/chat/:id/stream", h.ResumeStream)
	}

	return r
}
