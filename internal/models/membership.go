package models

import (
	"time"
)

// Membership roles.
const (
	RoleLeader   = "leader"
	RoleCoLeader = "co_leader"
	RoleMember   = "member"
)

// Membership statuses. Pending and active are the live states; inactive
// (left) and removed (rejected) are terminal.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusRemoved  = "removed"
)

// Membership is one user-group relationship. The (group_id, user_id)
// pair is unique; a terminal row is recycled when the same user requests
// to join the same group again.
type Membership struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	GroupID uint   `gorm:"uniqueIndex:idx_group_user;not null" json:"group_id"`
	Group   *Group `gorm:"foreignKey:GroupID" json:"group,omitempty"`
	UserID  uint   `gorm:"uniqueIndex:idx_group_user;not null;index:idx_user_status" json:"user_id"`
	User    *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Role   string `gorm:"size:20;default:member" json:"role"`
	Status string `gorm:"size:20;not null;index:idx_user_status" json:"status"`

	// Message is the optional note submitted with the join request.
	Message string `gorm:"size:500" json:"message,omitempty"`

	// JoinedAt is the request time while pending and the approval time
	// once active. Pending listings are FIFO on this field.
	JoinedAt time.Time  `gorm:"index" json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Membership) TableName() string { return "memberships" }

// IsLive reports whether the membership occupies a pending or active slot.
func (m *Membership) IsLive() bool {
	return m.Status == StatusPending || m.Status == StatusActive
}

// IsTerminal reports whether the membership has reached a final state.
func (m *Membership) IsTerminal() bool {
	return m.Status == StatusInactive || m.Status == StatusRemoved
}

// CanModerate reports whether the role may approve or reject requests.
func CanModerate(role string) bool {
	return role == RoleLeader || role == RoleCoLeader
}
