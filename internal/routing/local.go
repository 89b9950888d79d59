package routing

import (
	"context"
	"errors"
	"math"

	"fleetroute/internal/model"
)

// LocalProvider answers distance queries from great-circle math instead of a
// road network. It serves as the offline fallback when no routing backend is
// configured and as a deterministic double in tests. Optimize mode runs
// nearest-neighbor construction followed by 2-opt improvement, keeping the
// depot anchor at index 0 fixed.
type LocalProvider struct {
	// AvgSpeedKmh converts distance to duration. Defaults to 45.
	AvgSpeedKmh float64
	// RoadFactor inflates straight-line distance toward road distance.
	// Defaults to 1.3.
	RoadFactor float64
	// Iterations bounds the 2-opt improvement passes. Defaults to 10.
	Iterations int
}

func (l *LocalProvider) speed() float64 {
	if l.AvgSpeedKmh > 0 {
		return l.AvgSpeedKmh
	}
	return 45
}

func (l *LocalProvider) factor() float64 {
	if l.RoadFactor > 0 {
		return l.RoadFactor
	}
	return 1.3
}

func (l *LocalProvider) GetRouteDistance(_ context.Context, waypoints []model.GeoPoint, optimize, returnToOrigin bool) (Result, error) {
	if len(waypoints) < 2 {
		return Result{}, errors.New("need at least 2 waypoints")
	}
	order := identity(len(waypoints))
	if optimize {
		order = nearestNeighborOrder(waypoints)
		order = improve2Opt(waypoints, order, returnToOrigin, l.iterations())
	}
	dist := l.factor() * tourKm(waypoints, order, returnToOrigin)
	res := Result{
		DistanceKm:  dist,
		DurationMin: dist / l.speed() * 60,
	}
	if optimize {
		res.OptimizedOrder = order
	}
	return res, nil
}

func (l *LocalProvider) iterations() int {
	if l.Iterations > 0 {
		return l.Iterations
	}
	return 10
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func tourKm(pts []model.GeoPoint, order []int, roundtrip bool) float64 {
	var total float64
	for i := 0; i+1 < len(order); i++ {
		total += haversineKm(pts[order[i]], pts[order[i+1]])
	}
	if roundtrip && len(order) > 1 {
		total += haversineKm(pts[order[len(order)-1]], pts[order[0]])
	}
	return total
}

// nearestNeighborOrder builds a tour greedily from index 0.
func nearestNeighborOrder(pts []model.GeoPoint) []int {
	n := len(pts)
	visited := make([]bool, n)
	order := make([]int, 0, n)
	cur := 0
	visited[0] = true
	order = append(order, 0)
	for len(order) < n {
		best, bestD := -1, math.MaxFloat64
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			if d := haversineKm(pts[cur], pts[j]); d < bestD {
				best, bestD = j, d
			}
		}
		visited[best] = true
		order = append(order, best)
		cur = best
	}
	return order
}

// improve2Opt applies 2-opt passes to shorten the tour until no move helps
// or the iteration budget runs out. Index 0 never moves.
func improve2Opt(pts []model.GeoPoint, order []int, roundtrip bool, iterations int) []int {
	best := append([]int(nil), order...)
	bestDist := tourKm(pts, best, roundtrip)
	n := len(order)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 1; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				if d := tourKm(pts, cand, roundtrip); d+1e-9 < bestDist {
					best, bestDist = cand, d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// haversineKm duplicates the geo helper to keep this package free of
// internal imports beyond model.
func haversineKm(a, b model.GeoPoint) float64 {
	const r = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return r * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
