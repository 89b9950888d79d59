// Package tracking ingests vehicle position samples and drives the per-stop
// geofence state machine: NotArrived -> Entered -> (Dwelling) -> Departed.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// Config holds the geofence tuning knobs. The source system hardcoded
// these; whether they should vary by vehicle type is unresolved, so they are
// configurable with the documented defaults.
type Config struct {
	RadiusM       float64       // geofence radius, default 100 m
	DwellAfter    time.Duration // continuous presence before a dwell event, default 5 min
	MinInterval   time.Duration // minimum evaluated update interval per vehicle, default 30 s
	RetentionDays int           // position purge horizon, default 30
}

func (c *Config) defaults() {
	if c.RadiusM <= 0 {
		c.RadiusM = 100
	}
	if c.DwellAfter <= 0 {
		c.DwellAfter = 5 * time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 30 * time.Second
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
}

// vehicleState serializes geofence evaluation for one vehicle. Positions
// for different vehicles process fully in parallel; positions for the same
// vehicle queue on this lock.
type vehicleState struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastEval time.Time
}

// Engine evaluates incoming positions against the active route's stop
// geofences and stamps arrival/departure timestamps.
type Engine struct {
	Store store.Store
	Log   zerolog.Logger

	cfg      Config
	mu       sync.Mutex
	vehicles map[string]*vehicleState
}

func NewEngine(st store.Store, cfg Config, log zerolog.Logger) *Engine {
	cfg.defaults()
	return &Engine{Store: st, Log: log, cfg: cfg, vehicles: map[string]*vehicleState{}}
}

func (e *Engine) vehicle(id string) *vehicleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	vs, ok := e.vehicles[id]
	if !ok {
		vs = &vehicleState{limiter: rate.NewLimiter(rate.Every(e.cfg.MinInterval), 1)}
		e.vehicles[id] = vs
	}
	return vs
}

// Ingest stores the position and, when it qualifies, runs geofence
// evaluation. Every sample is persisted for the audit trail; samples
// arriving faster than the minimum interval, or timestamped behind the
// vehicle's last evaluated sample, are stored and skipped.
func (e *Engine) Ingest(ctx context.Context, in model.PositionIn) (model.VehiclePosition, []model.GeofenceEvent, error) {
	if in.VehicleID == "" {
		return model.VehiclePosition{}, nil, fmt.Errorf("vehicleId is required")
	}
	pos := model.VehiclePosition{
		ID:        uuid.New().String(),
		VehicleID: in.VehicleID,
		RouteID:   in.RouteID,
		Location:  model.GeoPoint{Lat: in.Lat, Lng: in.Lng},
		Timestamp: time.Now().UTC(),
	}
	if in.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return model.VehiclePosition{}, nil, fmt.Errorf("bad timestamp: %w", err)
		}
		pos.Timestamp = ts.UTC()
	}
	if in.SpeedKmh != nil {
		pos.SpeedKmh = *in.SpeedKmh
	}
	if in.Heading != nil {
		pos.Heading = *in.Heading
	}
	if in.AccuracyM != nil {
		pos.AccuracyM = *in.AccuracyM
	}
	if in.Moving != nil {
		pos.Moving = *in.Moving
	}

	vs := e.vehicle(pos.VehicleID)
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if err := e.Store.InsertPosition(ctx, pos); err != nil {
		return model.VehiclePosition{}, nil, err
	}

	// Stale sample: keep for history, never regress arrival/departure state.
	if !vs.lastEval.IsZero() && pos.Timestamp.Before(vs.lastEval) {
		return pos, nil, nil
	}
	// Rate gate keyed on sample time: fast-arriving samples are audit-only.
	if !vs.limiter.AllowN(pos.Timestamp, 1) {
		return pos, nil, nil
	}
	vs.lastEval = pos.Timestamp

	if pos.RouteID == "" {
		return pos, nil, nil
	}
	events, err := e.evaluate(ctx, pos)
	if err != nil {
		return pos, nil, err
	}
	return pos, events, nil
}

// evaluate runs the state machine for every stop of the position's route.
// Idempotency is causal, not order-based: a transition fires only when the
// store shows no prior event of that type for the stop, so duplicated or
// reordered deliveries cannot re-fire enter or exit.
func (e *Engine) evaluate(ctx context.Context, pos model.VehiclePosition) ([]model.GeofenceEvent, error) {
	r, err := e.Store.GetRoute(ctx, pos.RouteID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	existing, err := e.Store.ListGeofenceEvents(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	// Keyed on PointID, not Seq: re-optimization renumbers stops, and events
	// recorded before the renumbering must stay attached to the same
	// physical stop.
	seen := map[string]bool{} // "pointID/type"
	enterAt := map[string]time.Time{}
	for _, ev := range existing {
		seen[ev.PointID+"/"+ev.Type] = true
		if ev.Type == model.GeofenceEnter {
			enterAt[ev.PointID] = ev.At
		}
	}

	var out []model.GeofenceEvent
	for _, stop := range r.Stops {
		distM := geo.HaversineM(pos.Location, stop.Location)
		inside := distM <= e.cfg.RadiusM
		hasEnter := seen[stop.PointID+"/"+model.GeofenceEnter]
		hasExit := seen[stop.PointID+"/"+model.GeofenceExit]

		switch {
		case inside && !hasEnter:
			// NotArrived -> Entered: stamp arrival from the position time.
			if _, err := e.Store.StampArrival(ctx, r.ID, stop.Seq, pos.Timestamp); err != nil {
				return out, err
			}
			ev := e.emit(ctx, r.ID, stop, pos, model.GeofenceEnter, distM)
			out = append(out, ev)
			e.Log.Info().Str("route", r.ID).Int("stop", stop.Seq).Str("vehicle", pos.VehicleID).Msg("geofence enter")

		case inside && hasEnter && !hasExit:
			// Entered -> Dwelling once presence exceeds the threshold.
			// Informational only; gates nothing.
			hasDwell := seen[stop.PointID+"/"+model.GeofenceDwell]
			if !hasDwell {
				if at, ok := enterAt[stop.PointID]; ok && pos.Timestamp.Sub(at) >= e.cfg.DwellAfter {
					ev := e.emit(ctx, r.ID, stop, pos, model.GeofenceDwell, distM)
					out = append(out, ev)
				}
			}

		case !inside && hasEnter && !hasExit:
			// Entered/Dwelling -> Departed: stamp departure, close the chain.
			if _, err := e.Store.StampDeparture(ctx, r.ID, stop.Seq, pos.Timestamp); err != nil {
				if err == store.ErrConflict {
					continue
				}
				return out, err
			}
			ev := e.emit(ctx, r.ID, stop, pos, model.GeofenceExit, distM)
			out = append(out, ev)
			e.Log.Info().Str("route", r.ID).Int("stop", stop.Seq).Str("vehicle", pos.VehicleID).Msg("geofence exit")
		}
		// A position for a stop already Departed falls through all arms:
		// stored for audit, no further transition, not an error.
	}
	return out, nil
}

func (e *Engine) emit(ctx context.Context, routeID string, stop model.RouteStop, pos model.VehiclePosition, typ string, distM float64) model.GeofenceEvent {
	ev := model.GeofenceEvent{
		ID:         uuid.New().String(),
		RouteID:    routeID,
		PointID:    stop.PointID,
		StopSeq:    stop.Seq,
		PositionID: pos.ID,
		VehicleID:  pos.VehicleID,
		Type:       typ,
		DistM:      distM,
		At:         pos.Timestamp,
	}
	if err := e.Store.InsertGeofenceEvent(ctx, ev); err != nil {
		e.Log.Error().Err(err).Str("route", routeID).Str("point", stop.PointID).Msg("insert geofence event")
	}
	return ev
}

// RetentionCutoff returns the purge horizon for the configured retention.
func (e *Engine) RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -e.cfg.RetentionDays)
}
