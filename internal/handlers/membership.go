package handlers

import (
	"github.com/gatherhq/gather/backend/internal/middleware"
	"github.com/gatherhq/gather/backend/internal/services"
	"github.com/gatherhq/gather/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type MembershipHandler struct {
	memberships *services.MembershipService
}

func NewMembershipHandler(memberships *services.MembershipService) *MembershipHandler {
	return &MembershipHandler{memberships: memberships}
}

type joinRequest struct {
	Message string `json:"message"`
}

// Join requests membership in a group
// POST /api/groups/:id/join
func (h *MembershipHandler) Join(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}

	m, err := h.memberships.RequestJoin(middleware.GetUserID(c), groupID, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, m)
}

// Leave exits the caller's active membership in the group
// POST /api/groups/:id/leave
func (h *MembershipHandler) Leave(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.memberships.Leave(middleware.GetUserID(c), groupID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "left group"})
}

// ListPending returns the group's pending join requests, oldest first
// GET /api/groups/:id/pending_requests
func (h *MembershipHandler) ListPending(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	pending, err := h.memberships.ListPending(middleware.GetUserID(c), groupID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, pending)
}

// Approve activates a pending membership
// POST /api/groups/:id/approve-request/:mid
func (h *MembershipHandler) Approve(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	membershipID, ok := parseIDParam(c, "mid")
	if !ok {
		return
	}

	m, err := h.memberships.Approve(middleware.GetUserID(c), groupID, membershipID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, m)
}

// Reject declines a pending membership
// POST /api/groups/:id/reject-request/:mid
func (h *MembershipHandler) Reject(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	membershipID, ok := parseIDParam(c, "mid")
	if !ok {
		return
	}

	if err := h.memberships.Reject(middleware.GetUserID(c), groupID, membershipID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "request rejected"})
}

// Promote raises an active member to co-leader
// POST /api/groups/:id/promote/:mid
func (h *MembershipHandler) Promote(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	membershipID, ok := parseIDParam(c, "mid")
	if !ok {
		return
	}

	m, err := h.memberships.PromoteCoLeader(middleware.GetUserID(c), groupID, membershipID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, m)
}

// Demote lowers a co-leader back to member
// POST /api/groups/:id/demote/:mid
func (h *MembershipHandler) Demote(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	membershipID, ok := parseIDParam(c, "mid")
	if !ok {
		return
	}

	m, err := h.memberships.DemoteCoLeader(middleware.GetUserID(c), groupID, membershipID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, m)
}
