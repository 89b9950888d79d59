package planner

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"fleetroute/internal/cluster"
	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// ErrNoDepot is returned when a plan request omits the depot location.
var ErrNoDepot = errors.New("plan request requires a depot")

// Service runs distribution-planning requests: cluster the candidate
// points, then build one draft route per cluster. All parameters travel
// with the request; the service holds no ambient planning state.
type Service struct {
	Store store.Store
	Log   zerolog.Logger
}

// Plan executes one planning run. Routes are only persisted after the whole
// run has computed; a cancelled context discards partial clusters rather
// than committing some of them.
func (s *Service) Plan(ctx context.Context, req model.PlanRequest) (model.PlanResult, error) {
	if req.Depot == nil {
		return model.PlanResult{}, ErrNoDepot
	}

	candidates := req.Points
	if req.MaxPriorityDays > 0 {
		// Priority is a selection filter only; it never shapes geometry.
		filtered := make([]model.DeliveryPoint, 0, len(candidates))
		for _, p := range candidates {
			if p.PriorityDays <= req.MaxPriorityDays {
				filtered = append(filtered, p)
			}
		}
		candidates = filtered
	}

	cr, err := cluster.Run(candidates, cluster.Params{
		Method:           req.Method,
		MaxStopsPerRoute: req.MaxStopsPerRoute,
		MaxDistanceKm:    req.MaxDistanceKm,
	})
	if err != nil {
		return model.PlanResult{Ungeocoded: cr.Ungeocoded}, err
	}

	result := model.PlanResult{
		Clusters:    cr.Clusters,
		Ungeocoded:  cr.Ungeocoded,
		Unclustered: []string{},
	}
	for _, p := range cr.Unclustered {
		result.Unclustered = append(result.Unclustered, p.ID)
	}

	routes := make([]model.Route, 0, len(cr.Clusters))
	for _, c := range cr.Clusters {
		if err := ctx.Err(); err != nil {
			return model.PlanResult{}, err
		}
		routes = append(routes, BuildRoute(c, candidates, *req.Depot, req.PlanDate, req.ReturnToOrigin))
	}

	// Persist only once everything computed; abort happens before here.
	if err := ctx.Err(); err != nil {
		return model.PlanResult{}, err
	}
	for _, r := range routes {
		saved, err := s.Store.CreateRoute(ctx, r)
		if err != nil {
			return model.PlanResult{}, err
		}
		result.Routes = append(result.Routes, saved)
	}
	s.Log.Info().Int("points", len(candidates)).Int("clusters", len(cr.Clusters)).
		Int("routes", len(result.Routes)).Int("ungeocoded", cr.Ungeocoded).
		Msg("planning run complete")
	return result, nil
}

// Preview runs clustering only, without building or persisting routes.
// Clusters are ephemeral; a fresh run recomputes them.
func (s *Service) Preview(ctx context.Context, req model.PlanRequest) (model.PlanResult, error) {
	cr, err := cluster.Run(req.Points, cluster.Params{
		Method:           req.Method,
		MaxStopsPerRoute: req.MaxStopsPerRoute,
		MaxDistanceKm:    req.MaxDistanceKm,
	})
	if err != nil {
		return model.PlanResult{Ungeocoded: cr.Ungeocoded}, err
	}
	out := model.PlanResult{Clusters: cr.Clusters, Ungeocoded: cr.Ungeocoded, Unclustered: []string{}}
	for _, p := range cr.Unclustered {
		out.Unclustered = append(out.Unclustered, p.ID)
	}
	return out, nil
}
