package models

import (
	"time"
)

const (
	// Allowed range for a group's member limit.
	MinMemberLimit = 2
	MaxMemberLimit = 100
)

// Group represents a capacity-bounded fellowship group.
// ActiveCount and PendingCount are maintained by the capacity guard with
// guarded updates; they are never recomputed lazily on read paths.
type Group struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:100;not null" json:"name"`
	Description string `gorm:"size:500" json:"description"`
	MemberLimit int    `gorm:"not null" json:"member_limit"`

	// IsOpen is reserved for a future auto-approval policy. Joins are
	// always created pending regardless of this flag.
	IsOpen   bool `gorm:"default:false" json:"is_open"`
	IsActive bool `gorm:"default:true;index" json:"is_active"`

	LeaderID uint  `gorm:"not null;index" json:"leader_id"`
	Leader   *User `gorm:"foreignKey:LeaderID" json:"leader,omitempty"`

	Address         string   `gorm:"size:255" json:"address"`
	GeocodedAddress string   `gorm:"size:255" json:"geocoded_address,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`

	ActiveCount  int `gorm:"not null;default:0" json:"active_count"`
	PendingCount int `gorm:"not null;default:0" json:"pending_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Group) TableName() string { return "groups" }

// HasCoordinates reports whether the group has been geocoded.
func (g *Group) HasCoordinates() bool {
	return g.Latitude != nil && g.Longitude != nil
}
