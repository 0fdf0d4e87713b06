package services

import (
	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CapacityGuard owns the group slot counters. A join request reserves a
// pending slot; approval commits it into the active count; reject and
// leave release their respective slots. Every counter change is a guarded
// UPDATE so the limits hold even outside the per-group lock.
//
// Policy: the pending backlog is bounded by member_limit, and the active
// count is independently bounded by member_limit at commit time. A group
// may therefore hold a full backlog of pending requests while near
// active capacity; the surplus fails at approval with ErrGroupFull.
type CapacityGuard struct{}

func NewCapacityGuard() *CapacityGuard {
	return &CapacityGuard{}
}

// Reservation is the handle for one provisionally claimed pending slot.
type Reservation struct {
	ID      string `json:"id"`
	GroupID uint   `json:"group_id"`
}

// Reserve claims a pending slot on the group. Fails with ErrGroupFull
// when the pending backlog has reached the member limit.
func (g *CapacityGuard) Reserve(tx *gorm.DB, groupID uint) (*Reservation, error) {
	res := tx.Model(&models.Group{}).
		Where("id = ? AND pending_count < member_limit", groupID).
		UpdateColumn("pending_count", gorm.Expr("pending_count + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrGroupFull
	}

	r := &Reservation{ID: uuid.NewString(), GroupID: groupID}
	logger.Debug().Str("reservation", r.ID).Uint("group_id", groupID).Msg("slot reserved")
	return r, nil
}

// Commit converts a pending slot into an active one. Fails with
// ErrGroupFull when the group is already at its active member limit.
func (g *CapacityGuard) Commit(tx *gorm.DB, groupID uint) error {
	res := tx.Model(&models.Group{}).
		Where("id = ? AND active_count < member_limit AND pending_count > 0", groupID).
		UpdateColumns(map[string]interface{}{
			"active_count":  gorm.Expr("active_count + 1"),
			"pending_count": gorm.Expr("pending_count - 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGroupFull
	}
	return nil
}

// ReleasePending frees a reserved pending slot (rejected request).
func (g *CapacityGuard) ReleasePending(tx *gorm.DB, groupID uint) error {
	return tx.Model(&models.Group{}).
		Where("id = ? AND pending_count > 0", groupID).
		UpdateColumn("pending_count", gorm.Expr("pending_count - 1")).Error
}

// ReleaseActive frees an active slot (member left).
func (g *CapacityGuard) ReleaseActive(tx *gorm.DB, groupID uint) error {
	return tx.Model(&models.Group{}).
		Where("id = ? AND active_count > 0", groupID).
		UpdateColumn("active_count", gorm.Expr("active_count - 1")).Error
}
