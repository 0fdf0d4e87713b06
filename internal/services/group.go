package services

import (
	"errors"
	"strings"
	"time"

	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"github.com/gatherhq/gather/backend/pkg/response"
	"gorm.io/gorm"
)

// CreateGroupRequest carries the fields for creating a group.
type CreateGroupRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"max=500"`
	MemberLimit int    `json:"member_limit" binding:"required"`
	Address     string `json:"address" binding:"max=255"`
	IsOpen      *bool  `json:"is_open"`
}

// UpdateGroupRequest carries the updatable fields. Nil means unchanged.
type UpdateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MemberLimit *int    `json:"member_limit"`
	Address     *string `json:"address"`
	IsOpen      *bool   `json:"is_open"`
}

// GroupService owns group lifecycle: creation (with the leader's implicit
// active membership), updates, and deactivation. Address changes schedule
// a geocode task; they never block or fail the group write.
type GroupService struct {
	db         *gorm.DB
	membership *MembershipService
	index      *ProximityIndex
}

func NewGroupService(db *gorm.DB, membership *MembershipService, index *ProximityIndex) *GroupService {
	return &GroupService{db: db, membership: membership, index: index}
}

// Create makes a new group with the creator as leader. The leader's
// membership is created active in the same transaction, so the group is
// never observable without its leader. The creator must not already hold
// a live membership anywhere.
func (s *GroupService) Create(leaderID uint, req *CreateGroupRequest) (*models.Group, error) {
	if req.MemberLimit < models.MinMemberLimit || req.MemberLimit > models.MaxMemberLimit {
		return nil, response.NewBadRequest("member_limit must be between 2 and 100")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, response.NewBadRequest("group name is required")
	}

	unlock := s.membership.locks.Lock(userKey(leaderID))
	defer unlock()

	isOpen := true
	if req.IsOpen != nil {
		isOpen = *req.IsOpen
	}

	var group *models.Group
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var live int64
		if err := tx.Model(&models.Membership{}).
			Where("user_id = ? AND status IN ?", leaderID, []string{models.StatusPending, models.StatusActive}).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return ErrAlreadyMember
		}

		g := models.Group{
			Name:        name,
			Description: req.Description,
			MemberLimit: req.MemberLimit,
			IsOpen:      isOpen,
			IsActive:    true,
			LeaderID:    leaderID,
			Address:     strings.TrimSpace(req.Address),
			ActiveCount: 1,
		}
		if err := tx.Create(&g).Error; err != nil {
			return err
		}

		m := models.Membership{
			GroupID:  g.ID,
			UserID:   leaderID,
			Role:     models.RoleLeader,
			Status:   models.StatusActive,
			JoinedAt: time.Now(),
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}

		group = &g
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Uint("group_id", group.ID).
		Uint("leader_id", leaderID).
		Int("member_limit", group.MemberLimit).
		Msg("group created")

	s.scheduleGeocode(group)
	return group, nil
}

// Get returns one group with its leader preloaded.
func (s *GroupService) Get(groupID uint) (*models.Group, error) {
	var group models.Group
	err := s.db.Preload("Leader").First(&group, groupID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// Update applies partial changes. Leader and co-leaders may update;
// shrinking member_limit below the current active count is rejected.
// An address change re-queues geocoding with the old coordinates kept
// until the new resolution lands.
func (s *GroupService) Update(actingUserID, groupID uint, req *UpdateGroupRequest) (*models.Group, error) {
	unlock := s.membership.locks.Lock(groupKey(groupID))
	defer unlock()

	var updated *models.Group
	addressChanged := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.membership.requireModerator(tx, actingUserID, groupID); err != nil {
			return err
		}

		var group models.Group
		if err := tx.First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return response.NewBadRequest("group name cannot be empty")
			}
			group.Name = name
		}
		if req.Description != nil {
			group.Description = *req.Description
		}
		if req.MemberLimit != nil {
			limit := *req.MemberLimit
			if limit < models.MinMemberLimit || limit > models.MaxMemberLimit {
				return response.NewBadRequest("member_limit must be between 2 and 100")
			}
			if limit < group.ActiveCount {
				return response.NewConflict("member_limit cannot be lower than the current member count")
			}
			group.MemberLimit = limit
		}
		if req.IsOpen != nil {
			group.IsOpen = *req.IsOpen
		}
		if req.Address != nil {
			address := strings.TrimSpace(*req.Address)
			if address != group.Address {
				group.Address = address
				addressChanged = true
			}
		}

		if err := tx.Save(&group).Error; err != nil {
			return err
		}
		updated = &group
		return nil
	})
	if err != nil {
		return nil, err
	}

	if addressChanged {
		s.scheduleGeocode(updated)
	}
	return updated, nil
}

// Deactivate retires a group. Leader only. The group stops accepting
// joins and leaves the proximity index. All live memberships end with
// it: active members (the leader included) become inactive, pending
// requests are removed, and the counters go to zero, so everyone gets
// their single membership slot back. The rows are retained for history.
func (s *GroupService) Deactivate(actingUserID, groupID uint) error {
	unlock := s.membership.locks.Lock(groupKey(groupID))
	defer unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.membership.requireLeader(tx, actingUserID, groupID); err != nil {
			return err
		}

		res := tx.Model(&models.Group{}).
			Where("id = ? AND is_active = ?", groupID, true).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrGroupNotFound
		}

		now := time.Now()
		if err := tx.Model(&models.Membership{}).
			Where("group_id = ? AND status = ?", groupID, models.StatusActive).
			Updates(map[string]interface{}{"status": models.StatusInactive, "left_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Membership{}).
			Where("group_id = ? AND status = ?", groupID, models.StatusPending).
			Update("status", models.StatusRemoved).Error; err != nil {
			return err
		}
		return tx.Model(&models.Group{}).Where("id = ?", groupID).
			Updates(map[string]interface{}{"active_count": 0, "pending_count": 0}).Error
	})
	if err != nil {
		return err
	}

	s.index.Remove(groupID)
	logger.Info().Uint("group_id", groupID).Uint("deactivated_by", actingUserID).Msg("group deactivated")
	return nil
}

// scheduleGeocode enqueues a geocode task for the group, or drops the
// group from the index when it has no address to resolve.
func (s *GroupService) scheduleGeocode(group *models.Group) {
	if group.Address == "" {
		s.index.Remove(group.ID)
		return
	}
	queue := GetTaskQueue()
	if queue == nil {
		logger.Warnf("[Group] task queue not initialized, geocoding skipped for group %d", group.ID)
		return
	}
	if err := queue.Enqueue(&GeocodeTask{GroupID: group.ID}); err != nil {
		logger.Warnf("[Group] failed to enqueue geocode task for group %d: %v", group.ID, err)
	}
}
