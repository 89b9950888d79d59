package model

import "time"

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DeliveryPoint is a geocoded client stop candidate. Created upstream by the
// CRUD layer; this engine consumes it read-only.
type DeliveryPoint struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Location     *GeoPoint `json:"location"`
	MassTonnes   float64   `json:"massTonnes"`
	PriorityDays int       `json:"priorityDays,omitempty"` // days until predicted reorder, upstream signal
}

// Geocoded reports whether the point carries usable coordinates.
func (p DeliveryPoint) Geocoded() bool {
	return p.Location != nil
}

// ClusterMethod selects the clustering strategy.
type ClusterMethod string

const (
	ClusterDensity  ClusterMethod = "density"
	ClusterBalanced ClusterMethod = "balanced"
)

// Cluster is an ephemeral grouping of delivery points produced by a planning
// run. It is not persisted unless a route is built from it.
type Cluster struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Method     string    `json:"method"`
	Centroid   GeoPoint  `json:"centroid"`
	PointIDs   []string  `json:"pointIds"`
	DistKm     []float64 `json:"distKm"` // member distance to centroid, same order as PointIDs
	SpanKm     float64   `json:"spanKm"`
	MassTonnes float64   `json:"massTonnes"`
}

// Route lifecycle statuses. Linear, no cycles; cancel only from draft/planned.
const (
	RouteDraft     = "draft"
	RoutePlanned   = "planned"
	RouteActive    = "active"
	RouteCompleted = "completed"
	RouteCancelled = "cancelled"
)

// RouteTransitions maps a status to the statuses it may move to.
var RouteTransitions = map[string][]string{
	RouteDraft:   {RoutePlanned, RouteCancelled},
	RoutePlanned: {RouteActive, RouteCancelled},
	RouteActive:  {RouteCompleted},
}

// CanTransition reports whether a route status change is legal.
func CanTransition(from, to string) bool {
	for _, s := range RouteTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Route is an ordered multi-stop delivery plan.
type Route struct {
	ID        string `json:"id"`
	Version   int    `json:"version"`
	PlanDate  string `json:"planDate"`
	Status    string `json:"status"`
	ClusterID string `json:"clusterId,omitempty"`
	VehicleID string `json:"vehicleId,omitempty"`
	// Vehicle profile captured at activation; emissions reads it from here.
	VehicleType     string      `json:"vehicleType,omitempty"`
	CapacityTonnes  float64     `json:"capacityTonnes,omitempty"`
	Depot           GeoPoint    `json:"depot"`
	Stops           []RouteStop `json:"stops"`
	TotalDistanceKm float64     `json:"totalDistanceKm"`
	EstDurationMin  float64     `json:"estDurationMin"`
	// DistanceIncludesReturn is fixed when the route is built and never
	// changes afterwards. Every consumer reads it; none recomputes it.
	DistanceIncludesReturn bool      `json:"distanceIncludesReturn"`
	CreatedAt              time.Time `json:"createdAt"`
}

// RouteStop is one ordered stop on a route. Seq is contiguous from 0.
type RouteStop struct {
	Seq           int        `json:"seq"`
	PointID       string     `json:"pointId"`
	Location      GeoPoint   `json:"location"`
	PlannedTonnes float64    `json:"plannedTonnes"`
	ArrivalAt     *time.Time `json:"arrivalAt,omitempty"`
	DepartureAt   *time.Time `json:"departureAt,omitempty"`
	Completed     bool       `json:"completed"`
}

// ServiceTime returns departure minus arrival when both are stamped.
func (s RouteStop) ServiceTime() time.Duration {
	if s.ArrivalAt == nil || s.DepartureAt == nil {
		return 0
	}
	return s.DepartureAt.Sub(*s.ArrivalAt)
}

// VehiclePosition is one sample from a vehicle's position stream.
// Append-only; rows are never mutated after insert.
type VehiclePosition struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicleId"`
	RouteID   string    `json:"routeId,omitempty"`
	Location  GeoPoint  `json:"location"`
	SpeedKmh  float64   `json:"speedKmh,omitempty"`
	Heading   float64   `json:"heading,omitempty"`
	AccuracyM float64   `json:"accuracyM,omitempty"`
	Moving    bool      `json:"moving,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Geofence event types. For each stop at most one enter and one exit, with
// dwell only between them.
const (
	GeofenceEnter = "enter"
	GeofenceDwell = "dwell"
	GeofenceExit  = "exit"
)

// GeofenceEvent records a vehicle crossing or dwelling at a stop geofence.
// PointID identifies the stop; StopSeq is the stop's sequence at emission
// time and goes stale when a later optimization renumbers the route.
type GeofenceEvent struct {
	ID         string    `json:"id"`
	RouteID    string    `json:"routeId"`
	PointID    string    `json:"pointId"`
	StopSeq    int       `json:"stopSeq"`
	PositionID string    `json:"positionId"`
	VehicleID  string    `json:"vehicleId"`
	Type       string    `json:"type"`
	DistM      float64   `json:"distM"`
	At         time.Time `json:"at"`
}

// RouteOptimizationResult is one immutable optimization run record. New runs
// append; history is never rewritten.
type RouteOptimizationResult struct {
	ID                   string  `json:"id"`
	RouteID              string  `json:"routeId"`
	OriginalDistanceKm   float64 `json:"originalDistanceKm"`
	OriginalDurationMin  float64 `json:"originalDurationMin"`
	OptimizedDistanceKm  float64 `json:"optimizedDistanceKm"`
	OptimizedDurationMin float64 `json:"optimizedDurationMin"`
	DistanceSavedKm      float64 `json:"distanceSavedKm"`
	TimeSavedMin         float64 `json:"timeSavedMin"`
	// RawDistanceDeltaKm is original minus optimized before clamping, so a
	// reporting layer can see regressions the clamped figure hides.
	RawDistanceDeltaKm float64   `json:"rawDistanceDeltaKm"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Emissions methods.
const (
	EmissionsDistanceBased = "distance-based"
	EmissionsFuelBased     = "fuel-based"
)

// EmissionsSegment is one leg between consecutive stops with the load the
// vehicle carried at the segment start.
type EmissionsSegment struct {
	FromSeq     int     `json:"fromSeq"` // -1 means depot
	ToSeq       int     `json:"toSeq"`
	DistanceKm  float64 `json:"distanceKm"`
	MassTonnes  float64 `json:"massTonnes"`
	Utilization float64 `json:"utilization"`
	EmissionsKg float64 `json:"emissionsKg"`
}

// EmissionsResult is a carbon report for one route.
type EmissionsResult struct {
	ID         string             `json:"id"`
	RouteID    string             `json:"routeId"`
	Method     string             `json:"method"`
	Segments   []EmissionsSegment `json:"segments,omitempty"`
	DeliveryKg float64            `json:"deliveryKg"`
	ReturnKg   float64            `json:"returnKg"` // distinct line item, present even when 0
	TotalKg    float64            `json:"totalKg"`
	FuelLiters float64            `json:"fuelLiters"`
	// KPIs derived from the totals above, not independent measurements.
	KgPerTonne   float64 `json:"kgPerTonne"`
	KgPerKm      float64 `json:"kgPerKm"`
	KgPerTonneKm float64 `json:"kgPerTonneKm"`
	// FallbackFactor flags that an unknown vehicle type fell back to the
	// default heavy-duty emission factor.
	FallbackFactor bool      `json:"fallbackFactor,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PlanRequest asks for a full distribution-planning run: cluster the
// candidate points, then build one draft route per cluster.
type PlanRequest struct {
	PlanDate         string          `json:"planDate"`
	Method           ClusterMethod   `json:"method,omitempty"`
	MaxStopsPerRoute int             `json:"maxStopsPerRoute,omitempty"`
	MaxDistanceKm    float64         `json:"maxDistanceKm,omitempty"`
	ReturnToOrigin   bool            `json:"returnToOrigin"`
	Depot            *GeoPoint       `json:"depot"`
	Points           []DeliveryPoint `json:"points"`
	// MaxPriorityDays, when >0, keeps only points due within that many
	// days. Selection filter only; never influences cluster geometry.
	MaxPriorityDays int    `json:"maxPriorityDays,omitempty"`
	Mode            string `json:"mode,omitempty"` // sync (default) or async
}

// PlanResult is the outcome of a planning run.
type PlanResult struct {
	Clusters    []Cluster `json:"clusters"`
	Unclustered []string  `json:"unclusteredPointIds"`
	Routes      []Route   `json:"routes"`
	// Ungeocoded counts points excluded for missing coordinates.
	Ungeocoded int `json:"ungeocoded"`
}

// Plan job statuses for async mode.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobDone      = "done"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// PlanJob tracks an asynchronous planning run.
type PlanJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Result    *PlanResult `json:"result,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// PositionIn is the ingestion payload for one position sample.
type PositionIn struct {
	VehicleID string   `json:"vehicleId"`
	RouteID   string   `json:"routeId,omitempty"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	SpeedKmh  *float64 `json:"speedKmh,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	AccuracyM *float64 `json:"accuracyM,omitempty"`
	Moving    *bool    `json:"moving,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"` // RFC3339; defaults to receipt time
}

// RoutePatch mutates route lifecycle fields.
type RoutePatch struct {
	Status         string  `json:"status,omitempty"`
	VehicleID      string  `json:"vehicleId,omitempty"`
	VehicleType    string  `json:"vehicleType,omitempty"`
	CapacityTonnes float64 `json:"capacityTonnes,omitempty"`
}
