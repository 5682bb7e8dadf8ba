package models

import (
	"strings"
	"time"
)

// User represents an account that owns recipes, tags and ingredients
type User struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Email        string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Name         string     `gorm:"size:255" json:"name"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	IsStaff      bool       `gorm:"default:false" json:"is_staff"`
	IsSuperuser  bool       `gorm:"default:false" json:"is_superuser"`
	LastLogin    *time.Time `json:"last_login"`

	// Relationships
	APIKeys []APIKey `gorm:"foreignKey:UserID" json:"-"`
}

// NormalizeEmail lower-cases the domain part of an address and leaves the
// local part as given, so "Test2@Example.com" becomes "Test2@example.com".
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}
