// Package geo holds the spherical-distance helpers shared by clustering,
// route building, and geofence evaluation.
package geo

import (
	"math"

	"fleetroute/internal/model"
)

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// HaversineKm returns the great-circle distance in kilometers.
func HaversineKm(a, b model.GeoPoint) float64 {
	return HaversineM(a, b) / 1000.0
}

// Centroid returns the arithmetic mean of the points. Fine at route scale;
// routes never straddle the antimeridian.
func Centroid(pts []model.GeoPoint) model.GeoPoint {
	if len(pts) == 0 {
		return model.GeoPoint{}
	}
	var lat, lng float64
	for _, p := range pts {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(pts))
	return model.GeoPoint{Lat: lat / n, Lng: lng / n}
}

// SpanKm returns the maximum pairwise distance between the points.
func SpanKm(pts []model.GeoPoint) float64 {
	var max float64
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			if d := HaversineKm(pts[i], pts[j]); d > max {
				max = d
			}
		}
	}
	return max
}

// PathKm sums leg distances over the points in order.
func PathKm(pts []model.GeoPoint) float64 {
	var total float64
	for i := 0; i+1 < len(pts); i++ {
		total += HaversineKm(pts[i], pts[i+1])
	}
	return total
}
