package handlers

import (
	"strconv"

	"github.com/gatherhq/gather/backend/internal/middleware"
	"github.com/gatherhq/gather/backend/internal/services"
	"github.com/gatherhq/gather/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type GroupHandler struct {
	groups    *services.GroupService
	directory *services.DirectoryService
}

func NewGroupHandler(groups *services.GroupService, directory *services.DirectoryService) *GroupHandler {
	return &GroupHandler{
		groups:    groups,
		directory: directory,
	}
}

// List returns the group directory. With ?nearby=true the listing is a
// proximity search ordered by distance.
// GET /api/groups
func (h *GroupHandler) List(c *gin.Context) {
	var req services.GroupListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.directory.List(middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Get returns one group
// GET /api/groups/:id
func (h *GroupHandler) Get(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	group, err := h.groups.Get(groupID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, group)
}

// Create makes a new group with the caller as leader
// POST /api/groups
func (h *GroupHandler) Create(c *gin.Context) {
	var req services.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	group, err := h.groups.Create(middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, group)
}

// Update applies partial changes to a group
// PUT /api/groups/:id
func (h *GroupHandler) Update(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	group, err := h.groups.Update(middleware.GetUserID(c), groupID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, group)
}

// Deactivate retires a group
// DELETE /api/groups/:id
func (h *GroupHandler) Deactivate(c *gin.Context) {
	groupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.groups.Deactivate(middleware.GetUserID(c), groupID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "group deactivated"})
}

// parseIDParam reads a positive integer path parameter, writing the
// error response itself on failure.
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
