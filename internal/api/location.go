package api

import (
	"sync"
)

// LatestLocation holds the latest known location for a vehicle.
type LatestLocation struct {
	VehicleID string  `json:"vehicleId"`
	RouteID   string  `json:"routeId,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	SpeedKmh  float64 `json:"speedKmh,omitempty"`
	TS        string  `json:"ts"`
}

// LocationCache stores the latest location per vehicle for cheap snapshot
// reads by the live feed and dashboards.
type LocationCache struct {
	mu sync.Mutex
	m  map[string]LatestLocation // vehicleId -> latest
}

// NewLocationCache constructs a LocationCache.
func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]LatestLocation{}} }

// Upsert stores or updates the latest location for a vehicle. Samples older
// than the cached one are ignored.
func (c *LocationCache) Upsert(loc LatestLocation) {
	if loc.VehicleID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.m[loc.VehicleID]; ok && cur.TS > loc.TS {
		return
	}
	c.m[loc.VehicleID] = loc
}

// Snapshot returns the latest location of every known vehicle.
func (c *LocationCache) Snapshot() []LatestLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LatestLocation, 0, len(c.m))
	for _, v := range c.m {
		out = append(out, v)
	}
	return out
}
