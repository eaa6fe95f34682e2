package models

import "time"

// ChatMessage is one entry in a user's assistant transcript. IsUser marks
// messages the user sent; the assistant's replies have it unset.
type ChatMessage struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Content   string    `gorm:"type:longtext;not null" json:"content"`
	IsUser    bool      `gorm:"default:false" json:"is_user"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
