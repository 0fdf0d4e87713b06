package models

import "time"

// GeocodeEntry memoizes one upstream address lookup. Unresolvable
// addresses are stored with Resolved=false so they are not retried on
// every read within the TTL window.
type GeocodeEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Address   string    `gorm:"uniqueIndex;size:255;not null" json:"address"` // normalized
	Resolved  bool      `json:"resolved"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	FetchedAt time.Time `gorm:"index" json:"fetched_at"`
}

func (GeocodeEntry) TableName() string { return "geocode_entries" }

// Expired reports whether the entry is older than ttl.
func (e *GeocodeEntry) Expired(ttl time.Duration) bool {
	return time.Since(e.FetchedAt) > ttl
}
