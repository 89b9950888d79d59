package api

import (
	"fmt"
	"time"

	"fleetroute/internal/model"
)

func validatePlanRequest(req *model.PlanRequest) error {
	if req.Method != "" && req.Method != model.ClusterDensity && req.Method != model.ClusterBalanced {
		return fmt.Errorf("invalid method: %s", req.Method)
	}
	if req.Mode != "" && req.Mode != "sync" && req.Mode != "async" {
		return fmt.Errorf("invalid mode: %s", req.Mode)
	}
	if req.PlanDate != "" {
		if _, err := time.Parse("2006-01-02", req.PlanDate); err != nil {
			return fmt.Errorf("planDate must be YYYY-MM-DD")
		}
	}
	if req.MaxStopsPerRoute < 0 {
		return fmt.Errorf("maxStopsPerRoute must be >= 0")
	}
	if req.MaxDistanceKm < 0 {
		return fmt.Errorf("maxDistanceKm must be >= 0")
	}
	if req.MaxPriorityDays < 0 {
		return fmt.Errorf("maxPriorityDays must be >= 0")
	}
	if len(req.Points) == 0 {
		return fmt.Errorf("points must not be empty")
	}
	for i, p := range req.Points {
		if p.ID == "" {
			return fmt.Errorf("points[%d]: id is required", i)
		}
		if p.MassTonnes < 0 {
			return fmt.Errorf("points[%d]: massTonnes must be >= 0", i)
		}
		if p.Location != nil {
			if err := validateCoords(p.Location.Lat, p.Location.Lng); err != nil {
				return fmt.Errorf("points[%d]: %w", i, err)
			}
		}
	}
	if req.Depot != nil {
		if err := validateCoords(req.Depot.Lat, req.Depot.Lng); err != nil {
			return fmt.Errorf("depot: %w", err)
		}
	}
	return nil
}

func validatePosition(in *model.PositionIn) error {
	if in.VehicleID == "" {
		return fmt.Errorf("vehicleId is required")
	}
	if err := validateCoords(in.Lat, in.Lng); err != nil {
		return err
	}
	if in.SpeedKmh != nil && *in.SpeedKmh < 0 {
		return fmt.Errorf("speedKmh must be >= 0")
	}
	if in.AccuracyM != nil && *in.AccuracyM < 0 {
		return fmt.Errorf("accuracyM must be >= 0")
	}
	if in.Heading != nil && (*in.Heading < 0 || *in.Heading >= 360) {
		return fmt.Errorf("heading must be in [0,360)")
	}
	if in.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, in.Timestamp); err != nil {
			return fmt.Errorf("timestamp must be RFC3339")
		}
	}
	return nil
}

func validateCoords(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("lat must be in [-90,90]")
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("lng must be in [-180,180]")
	}
	return nil
}
