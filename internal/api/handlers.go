package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetroute/internal/cluster"
	"fleetroute/internal/emissions"
	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// PlanHandler handles POST /v1/plan
func (s *Server) PlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validatePlanRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
		return
	}
	if req.MaxStopsPerRoute == 0 {
		req.MaxStopsPerRoute = s.Cfg.Planning.MaxStopsPerRoute
	}
	if req.MaxDistanceKm == 0 {
		req.MaxDistanceKm = s.Cfg.Planning.MaxDistanceKm
	}

	if strings.EqualFold(req.Mode, "async") {
		job, err := s.Jobs.Start(req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Start plan job failed", err.Error(), r.URL.Path)
			return
		}
		metrics.PlanRuns.WithLabelValues("async", "accepted").Inc()
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	result, err := s.Planner.Plan(r.Context(), req)
	if err != nil {
		metrics.PlanRuns.WithLabelValues("sync", "failed").Inc()
		if errors.Is(err, cluster.ErrNoEligiblePoints) {
			// explicit signal, not an empty success and not a masked error
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "no eligible points",
				"ungeocoded": result.Ungeocoded,
			})
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Plan failed", err.Error(), r.URL.Path)
		return
	}
	metrics.PlanRuns.WithLabelValues("sync", "ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

// ClustersPreviewHandler handles POST /v1/clusters/preview
func (s *Server) ClustersPreviewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.MaxStopsPerRoute == 0 {
		req.MaxStopsPerRoute = s.Cfg.Planning.MaxStopsPerRoute
	}
	if req.MaxDistanceKm == 0 {
		req.MaxDistanceKm = s.Cfg.Planning.MaxDistanceKm
	}
	result, err := s.Planner.Preview(r.Context(), req)
	if err != nil {
		if errors.Is(err, cluster.ErrNoEligiblePoints) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "no eligible points",
				"ungeocoded": result.Ungeocoded,
			})
			return
		}
		writeProblem(w, http.StatusBadRequest, "Cluster preview failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PlanJobHandler handles GET/DELETE /v1/plan/jobs/{id}
func (s *Server) PlanJobHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/plan/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if !s.Jobs.Cancel(id) {
			job, err := s.Jobs.Get(r.Context(), id)
			if err != nil {
				writeStoreError(w, err, r.URL.Path)
				return
			}
			// already finished; nothing to cancel
			writeJSON(w, http.StatusOK, job)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": model.JobCancelled})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RoutesIndexHandler handles GET /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListRoutes(r.Context(), status, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RouteByIDHandler handles /v1/routes/{id} and its subresources:
// /optimize, /optimizations, /emissions, /events/stream
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if len(parts) == 1 {
		s.routeHandler(w, r, id)
		return
	}
	switch parts[1] {
	case "optimize":
		s.optimizeHandler(w, r, id)
	case "optimizations":
		s.optimizationsHandler(w, r, id)
	case "emissions":
		s.emissionsHandler(w, r, id)
	case "events/stream":
		s.routeEventsStream(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rt, err := s.Store.GetRoute(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rt)
	case http.MethodPatch:
		var patch model.RoutePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if patch.Status != "" && !validRouteStatus(patch.Status) {
			writeProblem(w, http.StatusBadRequest, "Invalid status", patch.Status, r.URL.Path)
			return
		}
		rt, err := s.Store.PatchRoute(r.Context(), id, patch)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		s.Broker.Publish("route:"+id, Event{Type: "route.updated", Data: map[string]any{
			"routeId": rt.ID, "status": rt.Status, "version": rt.Version,
		}})
		writeJSON(w, http.StatusOK, rt)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) optimizeHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rt, res, err := s.Optimizer.Optimize(r.Context(), id)
	if err != nil {
		metrics.Optimizations.WithLabelValues("failed").Inc()
		if errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		// the route keeps its pre-optimization state; tell the caller
		// the optimization did not apply
		writeProblem(w, http.StatusBadGateway, "Optimization not applied", err.Error(), r.URL.Path)
		return
	}
	metrics.Optimizations.WithLabelValues("ok").Inc()
	s.Broker.Publish("route:"+id, Event{Type: "route.optimized", Data: map[string]any{
		"routeId": rt.ID, "distanceSavedKm": res.DistanceSavedKm, "timeSavedMin": res.TimeSavedMin,
	}})
	writeJSON(w, http.StatusOK, map[string]any{"route": rt, "result": res})
}

func (s *Server) optimizationsHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := s.Store.ListOptimizations(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List optimizations failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) emissionsHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		res, err := s.Store.LatestEmissions(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case http.MethodPost:
		var req struct {
			Method         string              `json:"method,omitempty"`
			VehicleType    string              `json:"vehicleType,omitempty"`
			CapacityTonnes float64             `json:"capacityTonnes,omitempty"`
			Segments       []emissions.Segment `json:"segments,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		rt, err := s.Store.GetRoute(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		vt := req.VehicleType
		if vt == "" {
			vt = rt.VehicleType
		}
		capT := req.CapacityTonnes
		if capT <= 0 {
			capT = rt.CapacityTonnes
		}
		var res model.EmissionsResult
		if strings.EqualFold(req.Method, model.EmissionsFuelBased) {
			res = emissions.ComputeFuelBased(rt, vt)
		} else {
			res = emissions.Compute(rt, vt, capT, req.Segments)
		}
		if err := s.Store.SaveEmissions(r.Context(), res); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save emissions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// routeEventsStream streams route events over SSE.
func (s *Server) routeEventsStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe("route:" + id)
	defer s.Broker.Unsubscribe("route:"+id, ch)
	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// PositionsHandler handles POST /v1/positions (one sample or a batch)
func (s *Server) PositionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := decodePositions(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	accepted := 0
	events := []model.GeofenceEvent{}
	for _, in := range body {
		if err := validatePosition(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid position", err.Error(), r.URL.Path)
			return
		}
		pos, evs, err := s.Tracker.Ingest(r.Context(), in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Ingest failed", err.Error(), r.URL.Path)
			return
		}
		accepted++
		metrics.PositionsIngested.Inc()
		s.Locations.Upsert(LatestLocation{
			VehicleID: pos.VehicleID, RouteID: pos.RouteID,
			Lat: pos.Location.Lat, Lng: pos.Location.Lng,
			SpeedKmh: pos.SpeedKmh, TS: pos.Timestamp.Format(time.RFC3339),
		})
		s.Broker.Publish("tracking", Event{Type: "position", Data: map[string]any{
			"vehicleId": pos.VehicleID, "routeId": pos.RouteID,
			"lat": pos.Location.Lat, "lng": pos.Location.Lng,
			"ts": pos.Timestamp.Format(time.RFC3339),
		}})
		for _, ev := range evs {
			metrics.GeofenceEvents.WithLabelValues(ev.Type).Inc()
			data := map[string]any{
				"routeId": ev.RouteID, "pointId": ev.PointID, "stopSeq": ev.StopSeq,
				"vehicleId": ev.VehicleID, "type": ev.Type, "distM": ev.DistM,
				"ts": ev.At.Format(time.RFC3339),
			}
			s.Broker.Publish("route:"+ev.RouteID, Event{Type: "geofence." + ev.Type, Data: data})
			s.Broker.Publish("tracking", Event{Type: "geofence." + ev.Type, Data: data})
		}
		events = append(events, evs...)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted, "events": events})
}

func decodePositions(r *http.Request) ([]model.PositionIn, error) {
	dec := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var batch []model.PositionIn
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var one model.PositionIn
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []model.PositionIn{one}, nil
}

// VehiclePositionsHandler handles GET /v1/vehicles/{id}/positions
func (s *Server) VehiclePositionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/vehicles/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "positions" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid since", err.Error(), r.URL.Path)
			return
		}
		since = t
	}
	limit := 500
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListPositions(r.Context(), parts[0], since, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List positions failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// FleetHandler handles GET /v1/tracking/fleet (latest location per vehicle)
func (s *Server) FleetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Locations.Snapshot()})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using the Postgres store
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func validRouteStatus(s string) bool {
	switch s {
	case model.RouteDraft, model.RoutePlanned, model.RouteActive, model.RouteCompleted, model.RouteCancelled:
		return true
	}
	return false
}
