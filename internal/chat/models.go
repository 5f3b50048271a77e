package chat

import "time"

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"

	RoleUser      = "user"
	RoleAssistant = "assistant"

	// PlaceholderTitle is overwritten once title generation completes.
	PlaceholderTitle = "New chat"
)

type Chat struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	UserID     string    `gorm:"size:64;index;not null" json:"user_id"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	Visibility string    `gorm:"size:16;not null;default:private" json:"visibility"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	ChatID string `gorm:"size:36;index;not null" json:"chat_id"`
	// UserID is the chat owner, denormalized for the quota window count.
	UserID string   `gorm:"size:64;index:idx_chat_msg_user_created,priority:1;not null" json:"-"`
	Role   string   `gorm:"size:16;not null" json:"role"`
	Parts  PartList `gorm:"type:text;not null" json:"parts"`
	// Moderation, once true, is never cleared.
	Moderation bool      `gorm:"not null;default:false" json:"moderation"`
	CreatedAt  time.Time `gorm:"index:idx_chat_msg_user_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// StreamRecord links a resumable stream id to its chat.
type StreamRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID    string    `gorm:"size:36;index;not null" json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (StreamRecord) TableName() string { return "chat_streams" }
