// Package emissions attributes greenhouse-gas emissions to delivery routes,
// segment by segment, tracking the vehicle load as it decreases along the
// outbound leg.
package emissions

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// Emission factors in kg CO2e per tonne-km, by vehicle type.
var emissionFactors = map[string]float64{
	"van":        0.25,
	"rigid_7_5t": 0.15,
	"rigid_18t":  0.105,
	"artic_40t":  0.062,
}

// Fuel factors in liters per km.
var fuelFactors = map[string]float64{
	"van":        0.10,
	"rigid_7_5t": 0.20,
	"rigid_18t":  0.30,
	"artic_40t":  0.38,
}

// defaultVehicleType is the documented heavy-duty fallback for unknown types.
const defaultVehicleType = "rigid_18t"

// dieselWTW is the well-to-wheel factor for diesel, kg CO2e per liter.
const dieselWTW = 3.17

// EmissionFactor returns the kg CO2e per tonne-km factor for a vehicle type,
// falling back to the default heavy-duty factor for unknown types. The
// second return reports whether the fallback was used.
func EmissionFactor(vehicleType string) (float64, bool) {
	if f, ok := emissionFactors[strings.ToLower(vehicleType)]; ok {
		return f, false
	}
	return emissionFactors[defaultVehicleType], true
}

// FuelFactor returns liters per km for a vehicle type, with the same
// fallback behavior as EmissionFactor.
func FuelFactor(vehicleType string) (float64, bool) {
	if f, ok := fuelFactors[strings.ToLower(vehicleType)]; ok {
		return f, false
	}
	return fuelFactors[defaultVehicleType], true
}

// UtilizationPenalty is a step function over capacity utilization. A
// near-empty vehicle is not proportionally cheaper to run, so low load
// fractions carry a multiplier descending from 1.8x (empty running) to 1.0x
// at full load.
func UtilizationPenalty(utilization float64) float64 {
	switch {
	case utilization < 0.2:
		return 1.8
	case utilization < 0.4:
		return 1.5
	case utilization < 0.6:
		return 1.3
	case utilization < 0.8:
		return 1.15
	default:
		return 1.0
	}
}

// Segment is one leg of travel with the mass carried at its start.
type Segment struct {
	FromSeq    int
	ToSeq      int
	DistanceKm float64
	MassTonnes float64
}

// BuildSegments derives planning-grade segments from a route's stop order:
// depot to first stop, then stop to stop, with the remaining load after each
// delivery. Distances are great-circle estimates; when actual leg distances
// are known the caller should pass its own segments to Compute instead.
func BuildSegments(r model.Route) []Segment {
	if len(r.Stops) == 0 {
		return nil
	}
	var total float64
	for _, s := range r.Stops {
		total += s.PlannedTonnes
	}
	segs := make([]Segment, 0, len(r.Stops))
	prev := r.Depot
	prevSeq := -1
	remaining := total
	for _, s := range r.Stops {
		segs = append(segs, Segment{
			FromSeq:    prevSeq,
			ToSeq:      s.Seq,
			DistanceKm: geo.HaversineKm(prev, s.Location),
			MassTonnes: remaining,
		})
		remaining -= s.PlannedTonnes
		prev = s.Location
		prevSeq = s.Seq
	}
	return segs
}

// Compute produces a carbon report for the route using the distance-based
// method over the given segments. Fuel is estimated from the route's stored
// total distance exactly as-is: when DistanceIncludesReturn is true that
// figure already contains the full round trip, and it must never be doubled
// again downstream. The one-way distance, where needed for the return-leg
// line item, is total/2 under that flag and is never inferred from the stop
// list.
func Compute(r model.Route, vehicleType string, capacityTonnes float64, segments []Segment) model.EmissionsResult {
	ef, fb1 := EmissionFactor(vehicleType)
	ff, fb2 := FuelFactor(vehicleType)

	res := model.EmissionsResult{
		ID:             uuid.New().String(),
		RouteID:        r.ID,
		Method:         model.EmissionsDistanceBased,
		FallbackFactor: fb1 || fb2,
		CreatedAt:      time.Now().UTC(),
	}

	if len(segments) == 0 {
		segments = BuildSegments(r)
	}

	var tonneKm float64
	for _, seg := range segments {
		util := 0.0
		if capacityTonnes > 0 {
			util = seg.MassTonnes / capacityTonnes
			if util > 1 {
				util = 1
			}
		}
		kg := seg.DistanceKm * seg.MassTonnes * ef * UtilizationPenalty(util)
		res.Segments = append(res.Segments, model.EmissionsSegment{
			FromSeq:     seg.FromSeq,
			ToSeq:       seg.ToSeq,
			DistanceKm:  seg.DistanceKm,
			MassTonnes:  seg.MassTonnes,
			Utilization: util,
			EmissionsKg: kg,
		})
		// The delivery figure is the segment sum, never a separately
		// recomputed aggregate; the two can diverge and only this one
		// is authoritative.
		res.DeliveryKg += kg
		tonneKm += seg.DistanceKm * seg.MassTonnes
	}

	// Fuel estimate from the stored total distance, as-is.
	res.FuelLiters = r.TotalDistanceKm * ff

	// Return leg: reported as its own line item, present even when zero.
	// The vehicle runs empty, so the distance-based mass term vanishes and
	// the fuel-based estimate over the one-way distance is used instead.
	if r.DistanceIncludesReturn {
		oneWayKm := r.TotalDistanceKm / 2
		res.ReturnKg = oneWayKm * ff * dieselWTW
	}

	res.TotalKg = res.DeliveryKg + res.ReturnKg

	var delivered float64
	for _, s := range r.Stops {
		delivered += s.PlannedTonnes
	}
	if delivered > 0 {
		res.KgPerTonne = res.TotalKg / delivered
	}
	if r.TotalDistanceKm > 0 {
		res.KgPerKm = res.TotalKg / r.TotalDistanceKm
	}
	if tonneKm > 0 {
		res.KgPerTonneKm = res.DeliveryKg / tonneKm
	}
	return res
}

// ComputeFuelBased is the secondary cross-check method: total fuel over the
// stored route distance times the diesel well-to-wheel factor. No segment
// breakdown.
func ComputeFuelBased(r model.Route, vehicleType string) model.EmissionsResult {
	ff, fb := FuelFactor(vehicleType)
	fuel := r.TotalDistanceKm * ff
	res := model.EmissionsResult{
		ID:             uuid.New().String(),
		RouteID:        r.ID,
		Method:         model.EmissionsFuelBased,
		FuelLiters:     fuel,
		TotalKg:        fuel * dieselWTW,
		FallbackFactor: fb,
		CreatedAt:      time.Now().UTC(),
	}
	res.DeliveryKg = res.TotalKg
	if r.TotalDistanceKm > 0 {
		res.KgPerKm = res.TotalKg / r.TotalDistanceKm
	}
	var delivered float64
	for _, s := range r.Stops {
		delivered += s.PlannedTonnes
	}
	if delivered > 0 {
		res.KgPerTonne = res.TotalKg / delivered
	}
	return res
}
