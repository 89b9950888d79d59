// Package routing wraps the external directions service used for route
// distance measurement and stop reordering.
package routing

import (
	"context"

	"fleetroute/internal/model"
)

// Result is one answer from the directions service.
type Result struct {
	DistanceKm  float64
	DurationMin float64
	// OptimizedOrder is a permutation of the input waypoint indices, with
	// index 0 (the depot) always first. Only set when optimize was true.
	OptimizedOrder []int
}

// Provider answers road-network distance queries over an ordered waypoint
// list. The two modes are both load-bearing: ordered mode must return the
// cost of the exact input order with no implicit reordering (it is the
// baseline-measurement primitive), while optimize mode may permute the
// intermediate waypoints for minimal travel. The depot anchor at index 0 is
// fixed in both modes, and when returnToOrigin is set the cost of the leg
// back to index 0 is included.
type Provider interface {
	GetRouteDistance(ctx context.Context, waypoints []model.GeoPoint, optimize, returnToOrigin bool) (Result, error)
}
