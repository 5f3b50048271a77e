package models

import "time"

// User backs both registered principals (email + password) and guest
// principals (cookie-minted id, Guest=true, no credentials).
type User struct {
	ID           string  `gorm:"primaryKey;size:64" json:"id"`
	Email        *string `gorm:"size:255;uniqueIndex" json:"email,omitempty"`
	PasswordHash string  `gorm:"size:128" json:"-"`
	Guest        bool    `gorm:"not null;default:false" json:"guest"`

	// Prepended to the system prompt when set.
	CustomInstructions string `gorm:"type:text" json:"custom_instructions,omitempty"`
	// UseLocation opts the user into location-aware prompting: when set,
	// the request's geo hints are passed to the model.
	UseLocation bool `gorm:"not null;default:false" json:"use_location"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
