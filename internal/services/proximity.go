package services

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gatherhq/gather/backend/internal/config"
	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"gorm.io/gorm"
)

const earthRadiusKm = 6371.0

// GroupPoint is one indexed group location.
type GroupPoint struct {
	GroupID   uint
	Latitude  float64
	Longitude float64
	CreatedAt time.Time
}

// ProximityHit is a query result: a group within the radius and its
// great-circle distance from the query point, rounded to 2 decimals.
type ProximityHit struct {
	GroupID    uint
	DistanceKm float64
}

// ProximityIndex answers "groups within radius, nearest first" from an
// in-memory snapshot of geocoded group coordinates. It is a read model:
// eventually consistent with the ledger, rebuilt on a schedule and
// updated by the geocoding pipeline. Groups without coordinates are
// simply absent.
type ProximityIndex struct {
	mu     sync.RWMutex
	points map[uint]GroupPoint

	defaultRadiusKm float64
	maxRadiusKm     float64
}

func NewProximityIndex(cfg *config.DiscoveryConfig) *ProximityIndex {
	return &ProximityIndex{
		points:          make(map[uint]GroupPoint),
		defaultRadiusKm: cfg.DefaultRadiusKm,
		maxRadiusKm:     cfg.MaxRadiusKm,
	}
}

// Upsert adds or replaces the coordinates for a group.
func (ix *ProximityIndex) Upsert(groupID uint, lat, lng float64, createdAt time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.points[groupID] = GroupPoint{
		GroupID:   groupID,
		Latitude:  lat,
		Longitude: lng,
		CreatedAt: createdAt,
	}
}

// Remove drops a group from the index (geocoding failure, deactivation).
func (ix *ProximityIndex) Remove(groupID uint) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.points, groupID)
}

// Len returns the number of indexed groups.
func (ix *ProximityIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.points)
}

// ClampRadius applies the default and maximum radius policy.
func (ix *ProximityIndex) ClampRadius(radiusKm float64) float64 {
	if radiusKm <= 0 {
		return ix.defaultRadiusKm
	}
	if radiusKm > ix.maxRadiusKm {
		return ix.maxRadiusKm
	}
	return radiusKm
}

// Query returns groups within radiusKm of the point, sorted by distance
// ascending. Equal distances are broken by group creation time ascending.
func (ix *ProximityIndex) Query(lat, lng, radiusKm float64) []ProximityHit {
	radiusKm = ix.ClampRadius(radiusKm)

	ix.mu.RLock()
	type candidate struct {
		hit       ProximityHit
		createdAt time.Time
	}
	var candidates []candidate
	for _, p := range ix.points {
		d := haversineKm(lat, lng, p.Latitude, p.Longitude)
		if d > radiusKm {
			continue
		}
		candidates = append(candidates, candidate{
			hit:       ProximityHit{GroupID: p.GroupID, DistanceKm: roundKm(d)},
			createdAt: p.CreatedAt,
		})
	}
	ix.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.DistanceKm != candidates[j].hit.DistanceKm {
			return candidates[i].hit.DistanceKm < candidates[j].hit.DistanceKm
		}
		return candidates[i].createdAt.Before(candidates[j].createdAt)
	})

	hits := make([]ProximityHit, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
	}
	return hits
}

// Rebuild replaces the index contents from the database: all active
// groups that have coordinates.
func (ix *ProximityIndex) Rebuild(db *gorm.DB) error {
	var groups []models.Group
	err := db.Where("is_active = ? AND latitude IS NOT NULL AND longitude IS NOT NULL", true).
		Find(&groups).Error
	if err != nil {
		return err
	}

	points := make(map[uint]GroupPoint, len(groups))
	for _, g := range groups {
		points[g.ID] = GroupPoint{
			GroupID:   g.ID,
			Latitude:  *g.Latitude,
			Longitude: *g.Longitude,
			CreatedAt: g.CreatedAt,
		}
	}

	ix.mu.Lock()
	ix.points = points
	ix.mu.Unlock()

	logger.Debug().Int("groups", len(points)).Msg("proximity index rebuilt")
	return nil
}

// haversineKm computes the great-circle distance between two points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func roundKm(d float64) float64 {
	return math.Round(d*100) / 100
}
