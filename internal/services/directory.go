package services

import (
	"errors"
	"strings"

	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/pkg/response"
	"gorm.io/gorm"
)

// GroupListRequest is the directory query. When Nearby is set, the query
// point comes from Latitude/Longitude or falls back to the caller's
// stored location.
type GroupListRequest struct {
	Nearby    bool     `form:"nearby"`
	Latitude  *float64 `form:"lat"`
	Longitude *float64 `form:"lng"`
	RadiusKm  float64  `form:"radius"`
	Name      string   `form:"name"`
	Page      int      `form:"page"`
	PageSize  int      `form:"page_size"`
}

// GroupListItem is one directory entry: the group annotated with the
// caller's membership (if any) and, for proximity queries, the distance.
type GroupListItem struct {
	models.Group
	MembershipStatus string   `json:"membership_status,omitempty"`
	MembershipRole   string   `json:"membership_role,omitempty"`
	DistanceKm       *float64 `json:"distance_km,omitempty"`
}

// GroupListResult is a paginated directory page.
type GroupListResult struct {
	Items    []GroupListItem `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// DirectoryService serves group listings: the plain active-group catalog
// and the proximity search backed by the in-memory index.
type DirectoryService struct {
	db         *gorm.DB
	membership *MembershipService
	index      *ProximityIndex
}

func NewDirectoryService(db *gorm.DB, membership *MembershipService, index *ProximityIndex) *DirectoryService {
	return &DirectoryService{db: db, membership: membership, index: index}
}

// List returns active groups, newest first, or the proximity-ordered
// result when Nearby is requested. userID annotates each row with the
// caller's membership status.
func (s *DirectoryService) List(userID uint, req *GroupListRequest) (*GroupListResult, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	if req.Nearby {
		return s.listNearby(userID, req, page, pageSize)
	}
	return s.listAll(userID, req, page, pageSize)
}

func (s *DirectoryService) listAll(userID uint, req *GroupListRequest, page, pageSize int) (*GroupListResult, error) {
	query := s.db.Model(&models.Group{}).Where("is_active = ?", true)
	if name := strings.TrimSpace(req.Name); name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var groups []models.Group
	err := query.
		Preload("Leader").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}

	items, err := s.annotate(userID, groups, nil)
	if err != nil {
		return nil, err
	}

	return &GroupListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// listNearby resolves the query point, asks the index for hits within
// the radius, hydrates the matched groups preserving distance order,
// then filters and paginates. The index may lag the database, so the
// hydration re-checks is_active.
func (s *DirectoryService) listNearby(userID uint, req *GroupListRequest, page, pageSize int) (*GroupListResult, error) {
	lat, lng, err := s.queryPoint(userID, req)
	if err != nil {
		return nil, err
	}

	hits := s.index.Query(lat, lng, req.RadiusKm)
	if len(hits) == 0 {
		return &GroupListResult{Items: []GroupListItem{}, Page: page, PageSize: pageSize}, nil
	}

	ids := make([]uint, len(hits))
	distances := make(map[uint]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.GroupID
		distances[h.GroupID] = h.DistanceKm
	}

	query := s.db.Where("id IN ? AND is_active = ?", ids, true)
	if name := strings.TrimSpace(req.Name); name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	var groups []models.Group
	if err := query.Preload("Leader").Find(&groups).Error; err != nil {
		return nil, err
	}

	// Restore distance order; the IN query returns rows in ID order.
	byID := make(map[uint]models.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	ordered := make([]models.Group, 0, len(groups))
	for _, h := range hits {
		if g, ok := byID[h.GroupID]; ok {
			ordered = append(ordered, g)
		}
	}

	total := int64(len(ordered))
	start := (page - 1) * pageSize
	if start >= len(ordered) {
		return &GroupListResult{Items: []GroupListItem{}, Total: total, Page: page, PageSize: pageSize}, nil
	}
	end := start + pageSize
	if end > len(ordered) {
		end = len(ordered)
	}

	items, err := s.annotate(userID, ordered[start:end], distances)
	if err != nil {
		return nil, err
	}

	return &GroupListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// queryPoint picks the proximity query origin: explicit coordinates win,
// then the caller's stored location.
func (s *DirectoryService) queryPoint(userID uint, req *GroupListRequest) (float64, float64, error) {
	if req.Latitude != nil && req.Longitude != nil {
		if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
			return 0, 0, response.NewBadRequest("invalid coordinates")
		}
		return *req.Latitude, *req.Longitude, nil
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, err
	}
	if !user.HasCoordinates() {
		return 0, 0, response.NewBadRequest("no location available: pass lat/lng or set your location first")
	}
	return *user.Latitude, *user.Longitude, nil
}

func (s *DirectoryService) annotate(userID uint, groups []models.Group, distances map[uint]float64) ([]GroupListItem, error) {
	ids := make([]uint, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}

	statuses, err := s.membership.StatusFor(userID, ids)
	if err != nil {
		return nil, err
	}

	items := make([]GroupListItem, len(groups))
	for i, g := range groups {
		item := GroupListItem{Group: g}
		if m, ok := statuses[g.ID]; ok && m.IsLive() {
			item.MembershipStatus = m.Status
			item.MembershipRole = m.Role
		}
		if distances != nil {
			if d, ok := distances[g.ID]; ok {
				dd := d
				item.DistanceKm = &dd
			}
		}
		items[i] = item
	}
	return items, nil
}
