package geo

import (
	"math"
	"testing"

	"fleetroute/internal/model"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Amsterdam to Rotterdam, roughly 57 km
	ams := model.GeoPoint{Lat: 52.3676, Lng: 4.9041}
	rtm := model.GeoPoint{Lat: 51.9244, Lng: 4.4777}
	d := HaversineKm(ams, rtm)
	if math.Abs(d-57) > 2 {
		t.Fatalf("got %.1f km, want ~57", d)
	}
	if HaversineM(ams, rtm) != d*1000 {
		t.Fatal("meter and kilometer variants disagree")
	}
}

func TestHaversineZero(t *testing.T) {
	p := model.GeoPoint{Lat: 52, Lng: 4}
	if d := HaversineM(p, p); d != 0 {
		t.Fatalf("identical points: %v", d)
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid([]model.GeoPoint{{Lat: 50, Lng: 4}, {Lat: 52, Lng: 6}})
	if c.Lat != 51 || c.Lng != 5 {
		t.Fatalf("centroid: %+v", c)
	}
	if z := Centroid(nil); z.Lat != 0 || z.Lng != 0 {
		t.Fatalf("empty centroid: %+v", z)
	}
}

func TestSpanAndPath(t *testing.T) {
	pts := []model.GeoPoint{
		{Lat: 52.0, Lng: 4.0},
		{Lat: 52.1, Lng: 4.0},
		{Lat: 52.3, Lng: 4.0},
	}
	span := SpanKm(pts)
	if math.Abs(span-HaversineKm(pts[0], pts[2])) > 1e-9 {
		t.Fatalf("span should be the widest pair, got %v", span)
	}
	path := PathKm(pts)
	want := HaversineKm(pts[0], pts[1]) + HaversineKm(pts[1], pts[2])
	if math.Abs(path-want) > 1e-9 {
		t.Fatalf("path: got %v, want %v", path, want)
	}
}
