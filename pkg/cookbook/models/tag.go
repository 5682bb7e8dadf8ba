package models

import "time"

// Tag is a user-owned label that can be applied to recipes
type Tag struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_tag_user_name" json:"user_id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_tag_user_name" json:"name"`
}

func (t Tag) GetID() uint     { return t.ID }
func (t Tag) GetName() string { return t.Name }
func (Tag) Kind() Kind        { return KindTag }

func (t *Tag) Assign(userID uint, name string) {
	t.UserID = userID
	t.Name = name
}
