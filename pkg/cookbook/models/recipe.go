package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recipe is a user-owned recipe with its tag and ingredient sets.
// Every linked Tag and Ingredient has the same UserID as the recipe.
type Recipe struct {
	ID          uint            `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	Title       string          `gorm:"size:255;not null" json:"title"`
	TimeMinutes int             `gorm:"not null" json:"time_minutes"`
	Price       decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"price"`
	Link        string          `gorm:"size:255" json:"link"`
	Description string          `gorm:"type:text" json:"description"`
	Image       string          `gorm:"size:255" json:"image"` // Path relative to the media root

	// Relationships
	Tags        []Tag        `gorm:"many2many:recipe_tags;" json:"tags"`
	Ingredients []Ingredient `gorm:"many2many:recipe_ingredients;" json:"ingredients"`
}
