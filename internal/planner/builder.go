// Package planner turns clusters into routes and runs the
// baseline-vs-optimized distance comparison against the routing provider.
package planner

import (
	"math"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// planningSpeedKmh converts a built route's distance into a first duration
// estimate. The optimization pass replaces it with the provider's figure.
const planningSpeedKmh = 45.0

// BuildRoute turns one cluster into a draft route. Stops are ordered by
// nearest-neighbor from the depot; that order is the baseline the
// optimization comparator later measures against. DistanceIncludesReturn is
// fixed here, once, and every downstream consumer reads it rather than
// recomputing it.
func BuildRoute(c model.Cluster, points []model.DeliveryPoint, depot model.GeoPoint, planDate string, returnToOrigin bool) model.Route {
	byID := make(map[string]model.DeliveryPoint, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}
	members := make([]model.DeliveryPoint, 0, len(c.PointIDs))
	for _, id := range c.PointIDs {
		if p, ok := byID[id]; ok && p.Geocoded() {
			members = append(members, p)
		}
	}

	ordered := nearestNeighborFrom(depot, members)
	stops := make([]model.RouteStop, len(ordered))
	for i, p := range ordered {
		stops[i] = model.RouteStop{
			Seq:           i,
			PointID:       p.ID,
			Location:      *p.Location,
			PlannedTonnes: p.MassTonnes,
		}
	}

	dist := routeKm(depot, stops, returnToOrigin)
	return model.Route{
		ID:                     uuid.New().String(),
		Version:                1,
		PlanDate:               planDate,
		Status:                 model.RouteDraft,
		ClusterID:              c.ID,
		Depot:                  depot,
		Stops:                  stops,
		TotalDistanceKm:        dist,
		EstDurationMin:         dist / planningSpeedKmh * 60,
		DistanceIncludesReturn: returnToOrigin,
		CreatedAt:              time.Now().UTC(),
	}
}

// nearestNeighborFrom orders points greedily starting from the depot.
func nearestNeighborFrom(depot model.GeoPoint, points []model.DeliveryPoint) []model.DeliveryPoint {
	rest := append([]model.DeliveryPoint(nil), points...)
	out := make([]model.DeliveryPoint, 0, len(rest))
	cur := depot
	for len(rest) > 0 {
		best, bestD := 0, math.MaxFloat64
		for i, p := range rest {
			if d := geo.HaversineKm(cur, *p.Location); d < bestD {
				best, bestD = i, d
			}
		}
		out = append(out, rest[best])
		cur = *rest[best].Location
		rest = append(rest[:best], rest[best+1:]...)
	}
	return out
}

// routeKm is the planning-grade distance of depot -> stops (-> depot).
func routeKm(depot model.GeoPoint, stops []model.RouteStop, returnToOrigin bool) float64 {
	pts := make([]model.GeoPoint, 0, len(stops)+2)
	pts = append(pts, depot)
	for _, s := range stops {
		pts = append(pts, s.Location)
	}
	if returnToOrigin {
		pts = append(pts, depot)
	}
	return geo.PathKm(pts)
}
