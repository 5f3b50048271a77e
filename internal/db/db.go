package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/valmeras/chat-gateway/internal/chat"
	"github.com/valmeras/chat-gateway/internal/models"
)

func Connect(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
}

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&chat.Chat{},
		&chat.Message{},
		&chat.StreamRecord{},
	)
}
