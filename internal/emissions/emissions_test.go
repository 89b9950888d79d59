package emissions

import (
	"math"
	"testing"

	"fleetroute/internal/model"
)

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestFuelNotDoubledForRoundTripDistance(t *testing.T) {
	// 470.4 km stored as the full round trip at 38 L/100km must come out
	// near 178.75 L, not twice that.
	r := model.Route{
		ID:                     "r1",
		TotalDistanceKm:        470.4,
		DistanceIncludesReturn: true,
	}
	res := Compute(r, "artic_40t", 25, nil)
	if !almostEqual(res.FuelLiters, 178.752, 0.01) {
		t.Fatalf("fuel: got %.3f L, want ~178.75 L", res.FuelLiters)
	}
}

func TestDeliveryFigureIsSegmentSum(t *testing.T) {
	r := model.Route{ID: "r1", TotalDistanceKm: 30, CapacityTonnes: 10}
	segs := []Segment{
		{FromSeq: -1, ToSeq: 0, DistanceKm: 12, MassTonnes: 6},
		{FromSeq: 0, ToSeq: 1, DistanceKm: 10, MassTonnes: 4},
		{FromSeq: 1, ToSeq: 2, DistanceKm: 8, MassTonnes: 1},
	}
	res := Compute(r, "rigid_18t", 10, segs)
	var sum float64
	for _, s := range res.Segments {
		sum += s.EmissionsKg
	}
	if !almostEqual(res.DeliveryKg, sum, 1e-9) {
		t.Fatalf("delivery %.6f != segment sum %.6f", res.DeliveryKg, sum)
	}
	if len(res.Segments) != 3 {
		t.Fatalf("segments: got %d, want 3", len(res.Segments))
	}
}

func TestUtilizationPenaltySteps(t *testing.T) {
	cases := []struct {
		util, want float64
	}{
		{0.0, 1.8}, {0.19, 1.8}, {0.2, 1.5}, {0.39, 1.5},
		{0.4, 1.3}, {0.6, 1.15}, {0.79, 1.15}, {0.8, 1.0}, {1.0, 1.0},
	}
	for _, c := range cases {
		if got := UtilizationPenalty(c.util); got != c.want {
			t.Fatalf("penalty(%.2f): got %v, want %v", c.util, got, c.want)
		}
	}
}

func TestUnknownVehicleTypeFallsBack(t *testing.T) {
	ef, fb := EmissionFactor("hovercraft")
	if !fb {
		t.Fatal("expected fallback flag")
	}
	want, _ := EmissionFactor("rigid_18t")
	if ef != want {
		t.Fatalf("fallback factor: got %v, want %v", ef, want)
	}
	res := Compute(model.Route{ID: "r1", TotalDistanceKm: 10}, "hovercraft", 5, nil)
	if !res.FallbackFactor {
		t.Fatal("result should carry the fallback flag")
	}
}

func TestReturnLegLineItem(t *testing.T) {
	r := model.Route{ID: "r1", TotalDistanceKm: 100, DistanceIncludesReturn: true}
	res := Compute(r, "van", 2, []Segment{{FromSeq: -1, ToSeq: 0, DistanceKm: 50, MassTonnes: 1}})
	// one-way 50 km * 0.10 L/km * 3.17 kg/L
	if !almostEqual(res.ReturnKg, 50*0.10*3.17, 1e-9) {
		t.Fatalf("return leg: got %v", res.ReturnKg)
	}
	if !almostEqual(res.TotalKg, res.DeliveryKg+res.ReturnKg, 1e-9) {
		t.Fatalf("total %v != delivery %v + return %v", res.TotalKg, res.DeliveryKg, res.ReturnKg)
	}

	// one-way route: no return line item
	r.DistanceIncludesReturn = false
	res = Compute(r, "van", 2, nil)
	if res.ReturnKg != 0 {
		t.Fatalf("one-way route should have zero return leg, got %v", res.ReturnKg)
	}
}

func TestBuildSegmentsMassDecreases(t *testing.T) {
	r := model.Route{
		Depot: model.GeoPoint{Lat: 52.0, Lng: 4.0},
		Stops: []model.RouteStop{
			{Seq: 0, Location: model.GeoPoint{Lat: 52.1, Lng: 4.0}, PlannedTonnes: 3},
			{Seq: 1, Location: model.GeoPoint{Lat: 52.2, Lng: 4.0}, PlannedTonnes: 2},
			{Seq: 2, Location: model.GeoPoint{Lat: 52.3, Lng: 4.0}, PlannedTonnes: 1},
		},
	}
	segs := BuildSegments(r)
	if len(segs) != 3 {
		t.Fatalf("segments: got %d, want 3", len(segs))
	}
	if segs[0].FromSeq != -1 {
		t.Fatalf("first segment should leave the depot, FromSeq=%d", segs[0].FromSeq)
	}
	wantMass := []float64{6, 3, 1}
	for i, s := range segs {
		if !almostEqual(s.MassTonnes, wantMass[i], 1e-9) {
			t.Fatalf("segment %d mass: got %v, want %v", i, s.MassTonnes, wantMass[i])
		}
		if s.DistanceKm <= 0 {
			t.Fatalf("segment %d has non-positive distance", i)
		}
	}
}

func TestComputeFuelBased(t *testing.T) {
	r := model.Route{ID: "r1", TotalDistanceKm: 200}
	res := ComputeFuelBased(r, "rigid_7_5t")
	if !almostEqual(res.FuelLiters, 40, 1e-9) {
		t.Fatalf("fuel: got %v, want 40", res.FuelLiters)
	}
	if !almostEqual(res.TotalKg, 40*3.17, 1e-9) {
		t.Fatalf("total: got %v", res.TotalKg)
	}
	if res.Method != model.EmissionsFuelBased {
		t.Fatalf("method: got %s", res.Method)
	}
}
