package handlers

import (
	"gorm.io/gorm"

	"github.com/valmeras/chat-gateway/internal/catalog"
	"github.com/valmeras/chat-gateway/internal/chat"
	"github.com/valmeras/chat-gateway/internal/config"
	"github.com/valmeras/chat-gateway/internal/store/redisstore"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	Catalog *catalog.Catalog
	ChatSvc *chat.Service
	// Streams is nil when no stream backing store is configured;
	// resumable streaming is then silently disabled.
	Streams *redisstore.Store
}

func NewHandler(db *gorm.DB, cfg config.Config, cat *catalog.Catalog, svc *chat.Service, streams *redisstore.Store) *Handler {
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		Catalog: cat,
		ChatSvc: svc,
		Streams: streams,
	}
}
