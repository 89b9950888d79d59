package cluster

import (
	"math"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// balancedStrategy is a k-means style centroid partition with
// k = ceil(n / maxStopsPerRoute). Every point is assigned to its nearest
// centroid, so unlike the density method there is never noise output.
type balancedStrategy struct{}

func (balancedStrategy) Name() string { return string(model.ClusterBalanced) }

const kmeansMaxIterations = 50

func (balancedStrategy) Cluster(points []model.DeliveryPoint, p Params) ([][]model.DeliveryPoint, []model.DeliveryPoint) {
	k := int(math.Ceil(float64(len(points)) / float64(p.MaxStopsPerRoute)))
	if k < 1 {
		k = 1
	}
	if k > len(points) {
		k = len(points)
	}

	centroids := seedCentroids(points, k)
	assign := make([]int, len(points))

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i, pt := range points {
			best, bestD := 0, math.MaxFloat64
			for c, ctr := range centroids {
				if d := geo.HaversineKm(*pt.Location, ctr); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		// Recompute centroids; an emptied centroid keeps its old position.
		for c := range centroids {
			var members []model.GeoPoint
			for i, pt := range points {
				if assign[i] == c {
					members = append(members, *pt.Location)
				}
			}
			if len(members) > 0 {
				centroids[c] = geo.Centroid(members)
			}
		}
	}

	groups := make([][]model.DeliveryPoint, k)
	for i, pt := range points {
		groups[assign[i]] = append(groups[assign[i]], pt)
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// seedCentroids uses farthest-point seeding from the first point, which is
// deterministic for a given input order.
func seedCentroids(points []model.DeliveryPoint, k int) []model.GeoPoint {
	seeds := []model.GeoPoint{*points[0].Location}
	for len(seeds) < k {
		var far model.GeoPoint
		farD := -1.0
		for _, pt := range points {
			// distance to the nearest existing seed
			near := math.MaxFloat64
			for _, s := range seeds {
				if d := geo.HaversineKm(*pt.Location, s); d < near {
					near = d
				}
			}
			if near > farD {
				farD = near
				far = *pt.Location
			}
		}
		seeds = append(seeds, far)
	}
	return seeds
}
