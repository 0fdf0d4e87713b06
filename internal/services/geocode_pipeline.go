package services

import (
	"context"
	"errors"

	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"gorm.io/gorm"
)

// GeocodePipeline consumes geocode tasks: it resolves a group's address
// and propagates the outcome to the group row and the proximity index.
// A failed resolution clears the coordinates and drops the group from
// radius queries; it never fails the write that scheduled the task.
type GeocodePipeline struct {
	db      *gorm.DB
	geocode *GeocodeService
	index   *ProximityIndex
}

func NewGeocodePipeline(db *gorm.DB, geocode *GeocodeService, index *ProximityIndex) *GeocodePipeline {
	return &GeocodePipeline{db: db, geocode: geocode, index: index}
}

// Process handles one geocode task.
func (p *GeocodePipeline) Process(ctx context.Context, task *GeocodeTask) error {
	var group models.Group
	if err := p.db.First(&group, task.GroupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.index.Remove(task.GroupID)
			return nil
		}
		return err
	}

	if !group.IsActive || group.Address == "" {
		p.index.Remove(group.ID)
		return p.clearCoordinates(&group)
	}

	coord, err := p.geocode.Resolve(ctx, group.Address)
	if err != nil {
		if errors.Is(err, ErrNotResolvable) {
			logger.Info().Uint("group_id", group.ID).Str("address", group.Address).
				Msg("address not resolvable, group excluded from proximity search")
			p.index.Remove(group.ID)
			return p.clearCoordinates(&group)
		}
		// Transport errors are retryable; leave current state untouched.
		return err
	}

	updates := map[string]interface{}{
		"latitude":         coord.Latitude,
		"longitude":        coord.Longitude,
		"geocoded_address": NormalizeAddress(group.Address),
	}
	if err := p.db.Model(&group).Updates(updates).Error; err != nil {
		return err
	}

	p.index.Upsert(group.ID, coord.Latitude, coord.Longitude, group.CreatedAt)

	logger.Info().
		Uint("group_id", group.ID).
		Float64("lat", coord.Latitude).
		Float64("lng", coord.Longitude).
		Msg("group geocoded")
	return nil
}

func (p *GeocodePipeline) clearCoordinates(group *models.Group) error {
	return p.db.Model(group).Updates(map[string]interface{}{
		"latitude":         nil,
		"longitude":        nil,
		"geocoded_address": "",
	}).Error
}
