package cluster

import (
	"sort"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// densityStrategy is a DBSCAN-style grouping: points within an adaptive
// neighborhood radius of a dense core are pulled into the same cluster,
// points reachable from no dense region come back as noise. Isolated points
// are better served as single-stop routes than by distorting a cluster's
// centroid, so noise is intentional output, not an error.
type densityStrategy struct{}

func (densityStrategy) Name() string { return string(model.ClusterDensity) }

func (densityStrategy) Cluster(points []model.DeliveryPoint, p Params) ([][]model.DeliveryPoint, []model.DeliveryPoint) {
	epsKm := adaptiveEpsKm(points, p.MaxDistanceKm)

	const (
		unvisited = 0
		noiseMark = -1
	)
	labels := make([]int, len(points)) // 0 unvisited, -1 noise, >0 cluster id
	nextLabel := 0

	neighborsOf := func(i int) []int {
		var out []int
		for j := range points {
			if j == i {
				continue
			}
			if geo.HaversineKm(*points[i].Location, *points[j].Location) <= epsKm {
				out = append(out, j)
			}
		}
		return out
	}

	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neigh := neighborsOf(i)
		if len(neigh) < p.MinPts {
			labels[i] = noiseMark
			continue
		}
		nextLabel++
		labels[i] = nextLabel
		// Expand the cluster over density-reachable points.
		queue := append([]int(nil), neigh...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == noiseMark {
				labels[j] = nextLabel // border point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = nextLabel
			jn := neighborsOf(j)
			if len(jn) >= p.MinPts {
				queue = append(queue, jn...)
			}
		}
	}

	groups := map[int][]model.DeliveryPoint{}
	var noise []model.DeliveryPoint
	for i, pt := range points {
		if labels[i] == noiseMark {
			noise = append(noise, pt)
			continue
		}
		groups[labels[i]] = append(groups[labels[i]], pt)
	}
	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([][]model.DeliveryPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out, noise
}

// adaptiveEpsKm derives the neighborhood radius from the data: 1.5x the mean
// nearest-neighbor distance, bounded so a sparse input cannot inflate the
// radius past half the allowed cluster span.
func adaptiveEpsKm(points []model.DeliveryPoint, maxDistanceKm float64) float64 {
	var sum float64
	for i := range points {
		nearest := -1.0
		for j := range points {
			if j == i {
				continue
			}
			d := geo.HaversineKm(*points[i].Location, *points[j].Location)
			if nearest < 0 || d < nearest {
				nearest = d
			}
		}
		if nearest > 0 {
			sum += nearest
		}
	}
	eps := 1.5 * sum / float64(len(points))
	if eps < 0.5 {
		eps = 0.5
	}
	if limit := maxDistanceKm / 2; eps > limit {
		eps = limit
	}
	return eps
}
