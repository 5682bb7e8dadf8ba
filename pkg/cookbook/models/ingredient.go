package models

import "time"

// Ingredient is a user-owned ingredient that can be listed on recipes
type Ingredient struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_ingredient_user_name" json:"user_id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_ingredient_user_name" json:"name"`
}

func (i Ingredient) GetID() uint     { return i.ID }
func (i Ingredient) GetName() string { return i.Name }
func (Ingredient) Kind() Kind        { return KindIngredient }

func (i *Ingredient) Assign(userID uint, name string) {
	i.UserID = userID
	i.Name = name
}
