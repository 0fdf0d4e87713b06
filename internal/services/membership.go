package services

import (
	"errors"
	"time"

	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"github.com/gatherhq/gather/backend/pkg/response"
	"gorm.io/gorm"
)

const maxJoinMessageLen = 500

// MembershipService is the authoritative state machine for user-group
// relationships. All mutations take the relevant keyed locks and run in
// a transaction, so a burst of concurrent joins or approvals cannot
// violate the capacity limit or the one-live-membership-per-user rule.
type MembershipService struct {
	db       *gorm.DB
	capacity *CapacityGuard
	locks    *lockManager
}

func NewMembershipService(db *gorm.DB) *MembershipService {
	return &MembershipService{
		db:       db,
		capacity: NewCapacityGuard(),
		locks:    newLockManager(),
	}
}

// RequestJoin creates a pending membership for the user in the group.
// The user lock is taken before the group lock so two racing requests by
// the same user against different groups serialize on the user.
func (s *MembershipService) RequestJoin(userID, groupID uint, message string) (*models.Membership, error) {
	if len(message) > maxJoinMessageLen {
		return nil, response.NewBadRequest("join message must be at most 500 characters")
	}

	unlockUser := s.locks.Lock(userKey(userID))
	defer unlockUser()
	unlockGroup := s.locks.Lock(groupKey(groupID))
	defer unlockGroup()

	var created *models.Membership
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if !group.IsActive {
			return ErrGroupNotAccepting
		}

		// One pending or active membership per user, across all groups.
		var live int64
		if err := tx.Model(&models.Membership{}).
			Where("user_id = ? AND status IN ?", userID, []string{models.StatusPending, models.StatusActive}).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return ErrAlreadyMember
		}

		reservation, err := s.capacity.Reserve(tx, groupID)
		if err != nil {
			return err
		}

		now := time.Now()

		// The (group, user) pair is unique. A terminal row from an
		// earlier stint is recycled into a fresh pending request.
		var m models.Membership
		err = tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
		switch {
		case err == nil:
			m.Role = models.RoleMember
			m.Status = models.StatusPending
			m.Message = message
			m.JoinedAt = now
			m.LeftAt = nil
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			m = models.Membership{
				GroupID:  groupID,
				UserID:   userID,
				Role:     models.RoleMember,
				Status:   models.StatusPending,
				Message:  message,
				JoinedAt: now,
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
		default:
			return err
		}

		logger.Info().
			Uint("user_id", userID).
			Uint("group_id", groupID).
			Str("reservation", reservation.ID).
			Msg("join requested")

		created = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Approve transitions a pending membership to active. The acting user's
// authority is re-derived from the ledger inside the transaction, never
// trusted from the request. JoinedAt becomes the approval time.
func (s *MembershipService) Approve(actingUserID, groupID, membershipID uint) (*models.Membership, error) {
	unlock := s.locks.Lock(groupKey(groupID))
	defer unlock()

	var approved *models.Membership
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireModerator(tx, actingUserID, groupID); err != nil {
			return err
		}

		m, err := s.pendingInGroup(tx, groupID, membershipID)
		if err != nil {
			return err
		}

		if err := s.capacity.Commit(tx, groupID); err != nil {
			return err
		}

		m.Status = models.StatusActive
		m.JoinedAt = time.Now()
		if err := tx.Save(m).Error; err != nil {
			return err
		}

		logger.Info().
			Uint("membership_id", m.ID).
			Uint("group_id", groupID).
			Uint("approved_by", actingUserID).
			Msg("membership approved")

		approved = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// Reject marks a pending membership removed and releases its reserved
// slot. The row is retained for auditability. Rejecting a non-pending
// membership is a not-found, never a second side effect.
func (s *MembershipService) Reject(actingUserID, groupID, membershipID uint) error {
	unlock := s.locks.Lock(groupKey(groupID))
	defer unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireModerator(tx, actingUserID, groupID); err != nil {
			return err
		}

		m, err := s.pendingInGroup(tx, groupID, membershipID)
		if err != nil {
			return err
		}

		m.Status = models.StatusRemoved
		if err := tx.Save(m).Error; err != nil {
			return err
		}

		if err := s.capacity.ReleasePending(tx, groupID); err != nil {
			return err
		}

		logger.Info().
			Uint("membership_id", m.ID).
			Uint("group_id", groupID).
			Uint("rejected_by", actingUserID).
			Msg("membership rejected")
		return nil
	})
}

// Leave transitions the user's active membership to inactive and frees
// the active slot. The leader cannot leave their own group.
func (s *MembershipService) Leave(userID, groupID uint) error {
	unlock := s.locks.Lock(groupKey(groupID))
	defer unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var m models.Membership
		err := tx.Where("group_id = ? AND user_id = ? AND status = ?",
			groupID, userID, models.StatusActive).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotAMember
			}
			return err
		}
		if m.Role == models.RoleLeader {
			return ErrLeaderCannotLeave
		}

		now := time.Now()
		m.Status = models.StatusInactive
		m.LeftAt = &now
		if err := tx.Save(&m).Error; err != nil {
			return err
		}

		if err := s.capacity.ReleaseActive(tx, groupID); err != nil {
			return err
		}

		logger.Info().
			Uint("user_id", userID).
			Uint("group_id", groupID).
			Msg("member left group")
		return nil
	})
}

// ListPending returns the group's pending join requests in FIFO order.
// Restricted to the group's leader and co-leaders.
func (s *MembershipService) ListPending(actingUserID, groupID uint) ([]models.Membership, error) {
	if err := s.requireModerator(s.db, actingUserID, groupID); err != nil {
		return nil, err
	}

	var pending []models.Membership
	err := s.db.Where("group_id = ? AND status = ?", groupID, models.StatusPending).
		Preload("User").
		Order("joined_at ASC").
		Find(&pending).Error
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// PromoteCoLeader raises an active member to co-leader. Leader only.
func (s *MembershipService) PromoteCoLeader(actingUserID, groupID, membershipID uint) (*models.Membership, error) {
	return s.changeRole(actingUserID, groupID, membershipID, models.RoleMember, models.RoleCoLeader)
}

// DemoteCoLeader lowers a co-leader back to member. Leader only.
func (s *MembershipService) DemoteCoLeader(actingUserID, groupID, membershipID uint) (*models.Membership, error) {
	return s.changeRole(actingUserID, groupID, membershipID, models.RoleCoLeader, models.RoleMember)
}

func (s *MembershipService) changeRole(actingUserID, groupID, membershipID uint, fromRole, toRole string) (*models.Membership, error) {
	unlock := s.locks.Lock(groupKey(groupID))
	defer unlock()

	var changed *models.Membership
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireLeader(tx, actingUserID, groupID); err != nil {
			return err
		}

		var m models.Membership
		err := tx.Where("id = ? AND group_id = ? AND status = ? AND role = ?",
			membershipID, groupID, models.StatusActive, fromRole).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMembershipNotFound
			}
			return err
		}

		m.Role = toRole
		if err := tx.Save(&m).Error; err != nil {
			return err
		}

		logger.Info().
			Uint("membership_id", m.ID).
			Uint("group_id", groupID).
			Str("role", toRole).
			Msg("membership role changed")

		changed = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// StatusFor returns the user's memberships keyed by group ID for the
// given groups. Used by the directory to annotate listings.
func (s *MembershipService) StatusFor(userID uint, groupIDs []uint) (map[uint]models.Membership, error) {
	result := make(map[uint]models.Membership)
	if len(groupIDs) == 0 {
		return result, nil
	}

	var memberships []models.Membership
	err := s.db.Where("user_id = ? AND group_id IN ?", userID, groupIDs).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		result[m.GroupID] = m
	}
	return result, nil
}

// requireModerator verifies the acting user holds an active leader or
// co-leader membership in the group at call time.
func (s *MembershipService) requireModerator(tx *gorm.DB, userID, groupID uint) error {
	var m models.Membership
	err := tx.Where("group_id = ? AND user_id = ? AND status = ?",
		groupID, userID, models.StatusActive).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotGroupModerator
		}
		return err
	}
	if !models.CanModerate(m.Role) {
		return ErrNotGroupModerator
	}
	return nil
}

// requireLeader verifies the acting user is the group's active leader.
func (s *MembershipService) requireLeader(tx *gorm.DB, userID, groupID uint) error {
	var count int64
	err := tx.Model(&models.Membership{}).
		Where("group_id = ? AND user_id = ? AND status = ? AND role = ?",
			groupID, userID, models.StatusActive, models.RoleLeader).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotGroupLeader
	}
	return nil
}

// pendingInGroup loads a pending membership verifying it belongs to the
// stated group. Cross-group IDs and non-pending rows are both not-found.
func (s *MembershipService) pendingInGroup(tx *gorm.DB, groupID, membershipID uint) (*models.Membership, error) {
	var m models.Membership
	err := tx.Where("id = ? AND group_id = ? AND status = ?",
		membershipID, groupID, models.StatusPending).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}
