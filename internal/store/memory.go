package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetroute/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is configured and
// in tests.
type Memory struct {
	mu        sync.Mutex
	routes    map[string]model.Route
	routeIDs  []string                                   // insertion order, for stable listing
	opts      map[string][]model.RouteOptimizationResult // routeID -> history
	positions map[string][]model.VehiclePosition         // vehicleID -> samples
	events    map[string][]model.GeofenceEvent           // routeID -> events
	emissions map[string][]model.EmissionsResult         // routeID -> results
	jobs      map[string]model.PlanJob
}

func NewMemory() *Memory {
	return &Memory{
		routes:    map[string]model.Route{},
		opts:      map[string][]model.RouteOptimizationResult{},
		positions: map[string][]model.VehiclePosition{},
		events:    map[string][]model.GeofenceEvent{},
		emissions: map[string][]model.EmissionsResult{},
		jobs:      map[string]model.PlanJob{},
	}
}

// cloneRoute returns an independent snapshot so callers never share the
// stops slice with the stored copy.
func cloneRoute(r model.Route) model.Route {
	out := r
	out.Stops = make([]model.RouteStop, len(r.Stops))
	copy(out.Stops, r.Stops)
	return out
}

func (m *Memory) CreateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version == 0 {
		r.Version = 1
	}
	m.routes[r.ID] = cloneRoute(r)
	m.routeIDs = append(m.routeIDs, r.ID)
	return cloneRoute(r), nil
}

func (m *Memory) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return cloneRoute(r), nil
}

func (m *Memory) ListRoutes(ctx context.Context, status, cursor string, limit int) ([]model.Route, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	start := 0
	if cursor != "" {
		for i, id := range m.routeIDs {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Route{}
	var next string
	for i := start; i < len(m.routeIDs) && len(out) < limit; i++ {
		r := m.routes[m.routeIDs[i]]
		if status == "" || r.Status == status {
			out = append(out, cloneRoute(r))
		}
		next = m.routeIDs[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) PatchRoute(ctx context.Context, routeID string, patch model.RoutePatch) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	if patch.Status != "" && patch.Status != r.Status {
		if !model.CanTransition(r.Status, patch.Status) {
			return model.Route{}, ErrConflict
		}
		r.Status = patch.Status
	}
	if patch.VehicleID != "" {
		r.VehicleID = patch.VehicleID
	}
	if patch.VehicleType != "" {
		r.VehicleType = patch.VehicleType
	}
	if patch.CapacityTonnes > 0 {
		r.CapacityTonnes = patch.CapacityTonnes
	}
	r.Version++
	m.routes[routeID] = r
	return cloneRoute(r), nil
}

func (m *Memory) ApplyOptimization(ctx context.Context, r model.Route, res model.RouteOptimizationResult) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.routes[r.ID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	if cur.Version != r.Version {
		return model.Route{}, ErrConflict
	}
	r.Version++
	m.routes[r.ID] = cloneRoute(r)
	m.opts[r.ID] = append(m.opts[r.ID], res)
	return cloneRoute(r), nil
}

func (m *Memory) ListOptimizations(ctx context.Context, routeID string) ([]model.RouteOptimizationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RouteOptimizationResult(nil), m.opts[routeID]...), nil
}

func (m *Memory) InsertPosition(ctx context.Context, p model.VehiclePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.VehicleID] = append(m.positions[p.VehicleID], p)
	return nil
}

func (m *Memory) LastPosition(ctx context.Context, vehicleID string) (model.VehiclePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.positions[vehicleID]
	if len(ps) == 0 {
		return model.VehiclePosition{}, ErrNotFound
	}
	// latest by timestamp; the log is append-ordered, not time-ordered
	best := ps[0]
	for _, p := range ps[1:] {
		if p.Timestamp.After(best.Timestamp) {
			best = p
		}
	}
	return best, nil
}

func (m *Memory) ListPositions(ctx context.Context, vehicleID string, since time.Time, limit int) ([]model.VehiclePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 500
	}
	out := []model.VehiclePosition{}
	for _, p := range m.positions[vehicleID] {
		if !since.IsZero() && p.Timestamp.Before(since) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) PurgePositions(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	protected := m.openChainPositionsLocked()
	purged := 0
	for vid, ps := range m.positions {
		kept := ps[:0]
		for _, p := range ps {
			if p.Timestamp.Before(cutoff) && !protected[p.ID] {
				purged++
				continue
			}
			kept = append(kept, p)
		}
		m.positions[vid] = kept
	}
	return purged, nil
}

// openChainPositionsLocked collects position IDs referenced by stops that
// have an enter event but no exit yet.
func (m *Memory) openChainPositionsLocked() map[string]bool {
	protected := map[string]bool{}
	for _, evs := range m.events {
		exited := map[string]bool{}
		for _, e := range evs {
			if e.Type == model.GeofenceExit {
				exited[e.PointID] = true
			}
		}
		for _, e := range evs {
			if !exited[e.PointID] {
				protected[e.PositionID] = true
			}
		}
	}
	return protected
}

func (m *Memory) InsertGeofenceEvent(ctx context.Context, e model.GeofenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.RouteID] = append(m.events[e.RouteID], e)
	return nil
}

func (m *Memory) ListGeofenceEvents(ctx context.Context, routeID string) ([]model.GeofenceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.GeofenceEvent(nil), m.events[routeID]...), nil
}

func (m *Memory) StampArrival(ctx context.Context, routeID string, stopSeq int, at time.Time) (model.Route, error) {
	return m.stampStop(routeID, stopSeq, at, false)
}

func (m *Memory) StampDeparture(ctx context.Context, routeID string, stopSeq int, at time.Time) (model.Route, error) {
	return m.stampStop(routeID, stopSeq, at, true)
}

func (m *Memory) stampStop(routeID string, stopSeq int, at time.Time, departure bool) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	r = cloneRoute(r)
	found := false
	for i := range r.Stops {
		if r.Stops[i].Seq != stopSeq {
			continue
		}
		found = true
		if departure {
			// completion requires a recorded arrival
			if r.Stops[i].ArrivalAt == nil {
				return model.Route{}, ErrConflict
			}
			if r.Stops[i].DepartureAt == nil {
				t := at
				r.Stops[i].DepartureAt = &t
				r.Stops[i].Completed = true
			}
		} else if r.Stops[i].ArrivalAt == nil {
			t := at
			r.Stops[i].ArrivalAt = &t
		}
	}
	if !found {
		return model.Route{}, ErrNotFound
	}
	r.Version++
	m.routes[routeID] = cloneRoute(r)
	return r, nil
}

func (m *Memory) SaveEmissions(ctx context.Context, res model.EmissionsResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emissions[res.RouteID] = append(m.emissions[res.RouteID], res)
	return nil
}

func (m *Memory) LatestEmissions(ctx context.Context, routeID string) (model.EmissionsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.emissions[routeID]
	if len(rs) == 0 {
		return model.EmissionsResult{}, ErrNotFound
	}
	return rs[len(rs)-1], nil
}

func (m *Memory) SavePlanJob(ctx context.Context, job model.PlanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetPlanJob(ctx context.Context, jobID string) (model.PlanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return model.PlanJob{}, ErrNotFound
	}
	return j, nil
}
