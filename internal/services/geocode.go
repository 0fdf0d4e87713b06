package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gatherhq/gather/backend/internal/config"
	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Coordinate is a geographic point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeocodeService resolves free-text addresses to coordinates through an
// upstream lookup service, memoized in the geocode_entries table with a
// TTL. Upstream calls honor a configured rate ceiling. Misses are cached
// too so an unresolvable address is not retried within the TTL.
type GeocodeService struct {
	db      *gorm.DB
	cfg     *config.GeocodingConfig
	limiter *rate.Limiter
	client  *http.Client
	ttl     time.Duration
}

func NewGeocodeService(db *gorm.DB, cfg *config.GeocodingConfig) *GeocodeService {
	return &GeocodeService{
		db:      db,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		ttl:     time.Duration(cfg.CacheTTLDays) * 24 * time.Hour,
	}
}

// Resolve returns the coordinate for an address, consulting the cache
// first. Returns ErrNotResolvable when the upstream has no match (cached
// negatively) and a transport error when the upstream is unreachable.
func (s *GeocodeService) Resolve(ctx context.Context, address string) (*Coordinate, error) {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return nil, ErrNotResolvable
	}

	var entry models.GeocodeEntry
	err := s.db.Where("address = ?", normalized).First(&entry).Error
	if err == nil && !entry.Expired(s.ttl) {
		if !entry.Resolved {
			return nil, ErrNotResolvable
		}
		return &Coordinate{Latitude: entry.Latitude, Longitude: entry.Longitude}, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	coord, lookupErr := s.lookup(ctx, normalized)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotResolvable) {
		return nil, lookupErr
	}

	if storeErr := s.store(normalized, coord); storeErr != nil {
		logger.Warn().Err(storeErr).Str("address", normalized).Msg("failed to cache geocode result")
	}

	if lookupErr != nil {
		return nil, lookupErr
	}
	return coord, nil
}

// lookup queries the upstream service, waiting on the rate limiter.
func (s *GeocodeService) lookup(ctx context.Context, address string) (*Coordinate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("q", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding upstream returned status %d", resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotResolvable
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, ErrNotResolvable
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, ErrNotResolvable
	}

	return &Coordinate{Latitude: lat, Longitude: lng}, nil
}

// store upserts the cache entry. coord == nil records a negative entry.
func (s *GeocodeService) store(address string, coord *Coordinate) error {
	entry := models.GeocodeEntry{
		Address:   address,
		Resolved:  coord != nil,
		FetchedAt: time.Now(),
	}
	if coord != nil {
		entry.Latitude = coord.Latitude
		entry.Longitude = coord.Longitude
	}

	var existing models.GeocodeEntry
	err := s.db.Where("address = ?", address).First(&existing).Error
	switch {
	case err == nil:
		entry.ID = existing.ID
		return s.db.Save(&entry).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.Create(&entry).Error
	default:
		return err
	}
}

// SweepExpired deletes cache entries older than the TTL. Run from the
// cron scheduler.
func (s *GeocodeService) SweepExpired() (int64, error) {
	cutoff := time.Now().Add(-s.ttl)
	res := s.db.Where("fetched_at < ?", cutoff).Delete(&models.GeocodeEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Infof("[Geocode] Swept %d expired cache entries", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// NormalizeAddress canonicalizes an address for use as a cache key:
// trimmed, lowercased, inner whitespace collapsed.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
