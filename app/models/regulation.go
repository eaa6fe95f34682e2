package models

import (
	"time"

	"gorm.io/gorm"
)

// Regulation is one searchable regulation document.
type Regulation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Number    string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"number"`
	Title     string    `gorm:"type:varchar(255);not null;index" json:"title"`
	Body      string    `gorm:"type:longtext" json:"body"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SearchRegulations runs a substring search over number and title.
// Absence of matches is a valid, non-error outcome.
func SearchRegulations(db *gorm.DB, q string, limit int) ([]Regulation, error) {
	var regs []Regulation
	pattern := "%" + q + "%"
	err := db.
		Where("number LIKE ? OR title LIKE ?", pattern, pattern).
		Order("number ASC").
		Limit(limit).
		Find(&regs).Error
	return regs, err
}
