package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetroute/internal/model"
	"fleetroute/internal/routing"
	"fleetroute/internal/store"
)

// Optimizer runs the baseline-vs-optimized comparison for a route. The
// provider handle is injected, never held as a process-wide singleton, so
// tests substitute a deterministic stub and concurrent calls with different
// providers do not interfere.
type Optimizer struct {
	Store    store.Store
	Provider routing.Provider
	Timeout  time.Duration
	Log      zerolog.Logger
}

func (o *Optimizer) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 30 * time.Second
}

// Optimize measures the route as currently sequenced, asks the provider for
// a reordered tour, and applies the result atomically. A provider failure
// fails the whole call; the route keeps its pre-optimization stop order,
// distance, and duration. Each run appends a new immutable result row.
func (o *Optimizer) Optimize(ctx context.Context, routeID string) (model.Route, model.RouteOptimizationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	r, err := o.Store.GetRoute(ctx, routeID)
	if err != nil {
		return model.Route{}, model.RouteOptimizationResult{}, err
	}
	if len(r.Stops) == 0 {
		return model.Route{}, model.RouteOptimizationResult{}, fmt.Errorf("route %s has no stops", routeID)
	}

	waypoints := make([]model.GeoPoint, 0, len(r.Stops)+1)
	waypoints = append(waypoints, r.Depot)
	for _, s := range r.Stops {
		waypoints = append(waypoints, s.Location)
	}

	// Baseline pass: ordered mode, no reordering. This measures the cost of
	// the route exactly as currently sequenced, including the synthetic
	// return leg when the route was built with one.
	baseline, err := o.Provider.GetRouteDistance(ctx, waypoints, false, r.DistanceIncludesReturn)
	if err != nil {
		return model.Route{}, model.RouteOptimizationResult{}, fmt.Errorf("baseline pass: %w", err)
	}

	// Optimized pass over the same stop set; the depot anchor stays fixed.
	optimized, err := o.Provider.GetRouteDistance(ctx, waypoints, true, r.DistanceIncludesReturn)
	if err != nil {
		return model.Route{}, model.RouteOptimizationResult{}, fmt.Errorf("optimize pass: %w", err)
	}

	stops, err := permuteStops(r.Stops, optimized.OptimizedOrder)
	if err != nil {
		return model.Route{}, model.RouteOptimizationResult{}, err
	}

	// Savings never go negative: a worse alternative ordering is reported
	// as zero saved, with the raw delta kept alongside. For corridor-shaped
	// geographies zero savings is a correct answer, not a defect.
	res := model.RouteOptimizationResult{
		ID:                   uuid.New().String(),
		RouteID:              r.ID,
		OriginalDistanceKm:   baseline.DistanceKm,
		OriginalDurationMin:  baseline.DurationMin,
		OptimizedDistanceKm:  optimized.DistanceKm,
		OptimizedDurationMin: optimized.DurationMin,
		DistanceSavedKm:      max0(baseline.DistanceKm - optimized.DistanceKm),
		TimeSavedMin:         max0(baseline.DurationMin - optimized.DurationMin),
		RawDistanceDeltaKm:   baseline.DistanceKm - optimized.DistanceKm,
		CreatedAt:            time.Now().UTC(),
	}

	r.Stops = stops
	r.TotalDistanceKm = optimized.DistanceKm
	r.EstDurationMin = optimized.DurationMin

	applied, err := o.Store.ApplyOptimization(ctx, r, res)
	if err != nil {
		return model.Route{}, model.RouteOptimizationResult{}, err
	}
	o.Log.Info().Str("route", r.ID).
		Float64("originalKm", res.OriginalDistanceKm).
		Float64("optimizedKm", res.OptimizedDistanceKm).
		Float64("savedKm", res.DistanceSavedKm).
		Msg("route optimized")
	return applied, res, nil
}

// permuteStops reorders stops by the provider's returned tour. order is a
// permutation of waypoint indices with the depot at position 0; stop i maps
// to waypoint index i+1. Sequence numbers are reassigned contiguously.
func permuteStops(stops []model.RouteStop, order []int) ([]model.RouteStop, error) {
	if len(order) == 0 {
		// provider kept the input order
		return stops, nil
	}
	if len(order) != len(stops)+1 || order[0] != 0 {
		return nil, fmt.Errorf("provider returned malformed stop order (%d entries for %d stops)", len(order), len(stops))
	}
	out := make([]model.RouteStop, 0, len(stops))
	seen := make(map[int]bool, len(order))
	for _, idx := range order[1:] {
		if idx < 1 || idx > len(stops) || seen[idx] {
			return nil, fmt.Errorf("provider returned invalid waypoint index %d", idx)
		}
		seen[idx] = true
		s := stops[idx-1]
		s.Seq = len(out)
		out = append(out, s)
	}
	return out, nil
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
