package chat

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/valmeras/chat-gateway/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChatByID(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) UpdateChatTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", id).
		Update("title", title).Error
}

func (r *Repo) UpdateChatVisibility(ctx context.Context, id, visibility string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", id).
		Update("visibility", visibility).Error
}

// DeleteChat removes the chat with its messages and stream records and
// returns the deleted row.
func (r *Repo) DeleteChat(ctx context.Context, id string) (*Chat, error) {
	c, err := r.GetChatByID(ctx, id)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&StreamRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Chat{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageParts replaces a message's parts in place. The moderation
// flag only moves upward; a true flag is never cleared.
func (r *Repo) UpdateMessageParts(ctx context.Context, id string, parts PartList, moderation bool) error {
	updates := map[string]any{"parts": parts}
	if moderation {
		updates["moderation"] = true
	}
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeleteMessagesFrom removes every message in the chat created at or
// after the given time.
func (r *Repo) DeleteMessagesFrom(ctx context.Context, chatID string, from time.Time) error {
	return r.db.WithContext(ctx).
		Where("chat_id = ? AND created_at >= ?", chatID, from).
		Delete(&Message{}).Error
}

// ListMessagesByChat returns messages oldest first.
func (r *Repo) ListMessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessages pages newest -> oldest by created_at.
func (r *Repo) ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountRecentUserMessages counts the principal's user-role messages in
// the trailing window. Point-in-time, no locking.
func (r *Repo) CountRecentUserMessages(ctx context.Context, userID string, window time.Duration) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("user_id = ? AND role = ? AND created_at > ?", userID, RoleUser, time.Now().Add(-window)).
		Count(&n).Error
	return n, err
}

func (r *Repo) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) CreateStreamRecord(ctx context.Context, s *StreamRecord) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// LatestStreamID returns the newest registered stream id for a chat.
func (r *Repo) LatestStreamID(ctx context.Context, chatID string) (string, error) {
	var s StreamRecord
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		First(&s).Error; err != nil {
		return "", err
	}
	return s.ID, nil
}
