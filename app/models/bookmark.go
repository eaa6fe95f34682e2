package models

import "time"

// Bookmark links a user to a saved regulation. Creating bookmarks is a
// premium feature; the gate lives in the bookmark controller, not here.
type Bookmark struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;index:ux_bookmarks_user_regulation,unique,priority:1" json:"user_id"`
	RegulationID uint       `gorm:"not null;index:ux_bookmarks_user_regulation,unique,priority:2" json:"regulation_id"`
	Regulation   Regulation `gorm:"foreignKey:RegulationID" json:"regulation"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
