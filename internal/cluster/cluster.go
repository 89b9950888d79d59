// Package cluster groups geocoded delivery points into route-sized clusters.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// ErrNoEligiblePoints is returned when a run has zero geocoded points.
var ErrNoEligiblePoints = errors.New("no eligible points to cluster")

// Params holds clustering parameters. These are passed per call; the engine
// keeps no ambient state, so concurrent runs with different parameters do
// not interfere.
type Params struct {
	Method           model.ClusterMethod
	MaxStopsPerRoute int
	MaxDistanceKm    float64
	// MinPts is the density method's minimum neighbor count.
	MinPts int
}

func (p *Params) defaults() {
	if p.Method == "" {
		p.Method = model.ClusterBalanced
	}
	if p.MaxStopsPerRoute <= 0 {
		p.MaxStopsPerRoute = 15
	}
	if p.MaxDistanceKm <= 0 {
		p.MaxDistanceKm = 50
	}
	if p.MinPts <= 0 {
		p.MinPts = 2
	}
}

// Strategy is one clustering algorithm. Implementations return groups of
// points plus any points they refuse to assign (noise).
type Strategy interface {
	Name() string
	Cluster(points []model.DeliveryPoint, p Params) (groups [][]model.DeliveryPoint, noise []model.DeliveryPoint)
}

// Result pairs the built clusters with the points left out of them.
type Result struct {
	Clusters    []model.Cluster
	Unclustered []model.DeliveryPoint
	Ungeocoded  int
}

// Run clusters points with the method selected in p. Ungeocoded points are
// excluded up front and surfaced as a count, never silently dropped.
func Run(points []model.DeliveryPoint, p Params) (Result, error) {
	p.defaults()

	eligible := make([]model.DeliveryPoint, 0, len(points))
	ungeocoded := 0
	for _, pt := range points {
		if pt.Geocoded() {
			eligible = append(eligible, pt)
		} else {
			ungeocoded++
		}
	}
	if len(eligible) == 0 {
		return Result{Ungeocoded: ungeocoded}, ErrNoEligiblePoints
	}

	// Degenerate input: a single trivial cluster, no rejection.
	if len(eligible) < 2 {
		c := build(eligible, string(p.Method), "Cluster 0")
		return Result{Clusters: []model.Cluster{c}, Ungeocoded: ungeocoded}, nil
	}

	strat, err := strategyFor(p.Method)
	if err != nil {
		return Result{}, err
	}
	groups, noise := strat.Cluster(eligible, p)

	// Enforce the stop cap and span limit by splitting oversized clusters.
	var bounded [][]model.DeliveryPoint
	for _, g := range groups {
		for _, sub := range splitBySpan(g, p.MaxDistanceKm) {
			bounded = append(bounded, splitByCapacity(sub, p.MaxStopsPerRoute)...)
		}
	}

	out := Result{Ungeocoded: ungeocoded, Unclustered: noise}
	for i, g := range bounded {
		out.Clusters = append(out.Clusters, build(g, strat.Name(), fmt.Sprintf("Cluster %d", i)))
	}
	return out, nil
}

func strategyFor(m model.ClusterMethod) (Strategy, error) {
	switch m {
	case model.ClusterDensity:
		return densityStrategy{}, nil
	case model.ClusterBalanced:
		return balancedStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown clustering method %q", m)
	}
}

func build(points []model.DeliveryPoint, method, label string) model.Cluster {
	locs := make([]model.GeoPoint, len(points))
	for i, pt := range points {
		locs[i] = *pt.Location
	}
	centroid := geo.Centroid(locs)
	c := model.Cluster{
		ID:       uuid.New().String(),
		Label:    label,
		Method:   method,
		Centroid: centroid,
		SpanKm:   geo.SpanKm(locs),
	}
	for _, pt := range points {
		c.PointIDs = append(c.PointIDs, pt.ID)
		c.DistKm = append(c.DistKm, geo.HaversineKm(centroid, *pt.Location))
		c.MassTonnes += pt.MassTonnes
	}
	return c
}

// splitByCapacity repeatedly peels off the maxStops points nearest the
// current centroid into a sub-cluster until every sub-cluster fits the cap.
func splitByCapacity(points []model.DeliveryPoint, maxStops int) [][]model.DeliveryPoint {
	if len(points) <= maxStops {
		return [][]model.DeliveryPoint{points}
	}
	var out [][]model.DeliveryPoint
	rest := append([]model.DeliveryPoint(nil), points...)
	for len(rest) > maxStops {
		locs := make([]model.GeoPoint, len(rest))
		for i, pt := range rest {
			locs[i] = *pt.Location
		}
		centroid := geo.Centroid(locs)
		sort.SliceStable(rest, func(i, j int) bool {
			return geo.HaversineKm(centroid, *rest[i].Location) < geo.HaversineKm(centroid, *rest[j].Location)
		})
		out = append(out, append([]model.DeliveryPoint(nil), rest[:maxStops]...))
		rest = rest[maxStops:]
	}
	if len(rest) > 0 {
		out = append(out, rest)
	}
	return out
}

// splitBySpan splits a cluster whose max pairwise distance exceeds the limit
// along its widest axis, recursively.
func splitBySpan(points []model.DeliveryPoint, maxSpanKm float64) [][]model.DeliveryPoint {
	if len(points) < 2 {
		return [][]model.DeliveryPoint{points}
	}
	locs := make([]model.GeoPoint, len(points))
	for i, pt := range points {
		locs[i] = *pt.Location
	}
	if geo.SpanKm(locs) <= maxSpanKm {
		return [][]model.DeliveryPoint{points}
	}

	var minLat, maxLat, minLng, maxLng = locs[0].Lat, locs[0].Lat, locs[0].Lng, locs[0].Lng
	for _, l := range locs[1:] {
		minLat = math.Min(minLat, l.Lat)
		maxLat = math.Max(maxLat, l.Lat)
		minLng = math.Min(minLng, l.Lng)
		maxLng = math.Max(maxLng, l.Lng)
	}
	sorted := append([]model.DeliveryPoint(nil), points...)
	if maxLat-minLat >= maxLng-minLng {
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Location.Lat < sorted[j].Location.Lat })
	} else {
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Location.Lng < sorted[j].Location.Lng })
	}
	mid := len(sorted) / 2
	out := splitBySpan(sorted[:mid], maxSpanKm)
	return append(out, splitBySpan(sorted[mid:], maxSpanKm)...)
}
