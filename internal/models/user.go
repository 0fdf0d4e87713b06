package models

import (
	"time"
)

// User represents a system user. Home coordinates, when present, are the
// fallback query point for nearby group searches.
type User struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Username    string     `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password    string     `gorm:"size:255;not null" json:"-"`
	DisplayName string     `gorm:"size:100" json:"display_name"`
	Role        string     `gorm:"size:50;default:user" json:"role"` // admin, user
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// HasCoordinates reports whether the user has a stored home location.
func (u *User) HasCoordinates() bool {
	return u.Latitude != nil && u.Longitude != nil
}
