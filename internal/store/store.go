package store

import (
	"context"
	"errors"
	"time"

	"fleetroute/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a route update loses a version race or a
	// status transition is illegal.
	ErrConflict = errors.New("conflict")
)

// Store is the persistence interface used by the API server and engines.
// Route reads return independent snapshots: callers never observe a route
// mid-update.
type Store interface {
	// Routes
	CreateRoute(ctx context.Context, r model.Route) (model.Route, error)
	GetRoute(ctx context.Context, routeID string) (model.Route, error)
	ListRoutes(ctx context.Context, status, cursor string, limit int) ([]model.Route, string, error)
	PatchRoute(ctx context.Context, routeID string, patch model.RoutePatch) (model.Route, error)
	// ApplyOptimization atomically replaces the route's stop order, distance
	// and duration, and appends the immutable optimization result. Version
	// must match the snapshot the optimization was computed from.
	ApplyOptimization(ctx context.Context, r model.Route, res model.RouteOptimizationResult) (model.Route, error)
	ListOptimizations(ctx context.Context, routeID string) ([]model.RouteOptimizationResult, error)

	// Positions (append-only)
	InsertPosition(ctx context.Context, p model.VehiclePosition) error
	LastPosition(ctx context.Context, vehicleID string) (model.VehiclePosition, error)
	ListPositions(ctx context.Context, vehicleID string, since time.Time, limit int) ([]model.VehiclePosition, error)
	// PurgePositions removes positions older than cutoff, except those
	// referenced by an open geofence chain (enter without exit).
	PurgePositions(ctx context.Context, cutoff time.Time) (int, error)

	// Geofence events (append-only)
	InsertGeofenceEvent(ctx context.Context, e model.GeofenceEvent) error
	ListGeofenceEvents(ctx context.Context, routeID string) ([]model.GeofenceEvent, error)
	// StampArrival / StampDeparture set stop timestamps; departure also
	// marks the stop completed. Both are no-ops returning the current route
	// when the timestamp is already set.
	StampArrival(ctx context.Context, routeID string, stopSeq int, at time.Time) (model.Route, error)
	StampDeparture(ctx context.Context, routeID string, stopSeq int, at time.Time) (model.Route, error)

	// Emissions
	SaveEmissions(ctx context.Context, res model.EmissionsResult) error
	LatestEmissions(ctx context.Context, routeID string) (model.EmissionsResult, error)

	// Plan jobs (async planning runs)
	SavePlanJob(ctx context.Context, job model.PlanJob) error
	GetPlanJob(ctx context.Context, jobID string) (model.PlanJob, error)
}
