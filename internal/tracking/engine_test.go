package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

var stopLoc = model.GeoPoint{Lat: 52.0, Lng: 4.0}

// ~1km north of the stop, well outside a 100m radius
var awayLoc = model.GeoPoint{Lat: 52.009, Lng: 4.0}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, model.Route) {
	t.Helper()
	st := store.NewMemory()
	r, err := st.CreateRoute(context.Background(), model.Route{
		ID:     "route-1",
		Status: model.RouteActive,
		Stops: []model.RouteStop{
			{Seq: 0, PointID: "p0", Location: stopLoc, PlannedTonnes: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateRoute: %v", err)
	}
	eng := NewEngine(st, Config{}, zerolog.Nop())
	return eng, st, r
}

func sample(vehicle, route string, loc model.GeoPoint, at time.Time) model.PositionIn {
	return model.PositionIn{
		VehicleID: vehicle,
		RouteID:   route,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		Timestamp: at.Format(time.RFC3339),
	}
}

func TestEnterDwellExit(t *testing.T) {
	eng, st, r := newTestEngine(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// t=0: inside the fence
	_, evs, err := eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0))
	if err != nil {
		t.Fatalf("ingest t0: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != model.GeofenceEnter {
		t.Fatalf("t0: got %+v, want one enter", evs)
	}

	// t=6min: still inside, past the 5 minute dwell threshold
	_, evs, err = eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0.Add(6*time.Minute)))
	if err != nil {
		t.Fatalf("ingest t6: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != model.GeofenceDwell {
		t.Fatalf("t6: got %+v, want one dwell", evs)
	}

	// t=12min: outside
	_, evs, err = eng.Ingest(ctx, sample("veh-1", r.ID, awayLoc, t0.Add(12*time.Minute)))
	if err != nil {
		t.Fatalf("ingest t12: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != model.GeofenceExit {
		t.Fatalf("t12: got %+v, want one exit", evs)
	}

	got, err := st.GetRoute(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRoute: %v", err)
	}
	s := got.Stops[0]
	if s.ArrivalAt == nil || !s.ArrivalAt.Equal(t0) {
		t.Fatalf("arrival: got %v, want %v", s.ArrivalAt, t0)
	}
	if s.DepartureAt == nil || !s.DepartureAt.Equal(t0.Add(12*time.Minute)) {
		t.Fatalf("departure: got %v", s.DepartureAt)
	}
	if !s.Completed {
		t.Fatal("stop should be completed after exit")
	}
	if s.ServiceTime() != 12*time.Minute {
		t.Fatalf("service time: got %v", s.ServiceTime())
	}
}

func TestEnterIsIdempotent(t *testing.T) {
	eng, st, r := newTestEngine(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if _, _, err := eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0)); err != nil {
		t.Fatal(err)
	}
	// Another inside sample before the dwell threshold: no second enter.
	_, evs, err := eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected no events, got %+v", evs)
	}
	all, _ := st.ListGeofenceEvents(ctx, r.ID)
	enters := 0
	for _, ev := range all {
		if ev.Type == model.GeofenceEnter {
			enters++
		}
	}
	if enters != 1 {
		t.Fatalf("enter events: got %d, want 1", enters)
	}
}

func TestNoReFireAfterDeparture(t *testing.T) {
	eng, st, r := newTestEngine(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0))
	eng.Ingest(ctx, sample("veh-1", r.ID, awayLoc, t0.Add(2*time.Minute)))

	// Back inside after departure: stored, no new transition.
	_, evs, err := eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0.Add(4*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 0 {
		t.Fatalf("departed stop re-fired: %+v", evs)
	}
	all, _ := st.ListGeofenceEvents(ctx, r.ID)
	if len(all) != 2 {
		t.Fatalf("events: got %d, want enter+exit only", len(all))
	}
}

func TestStaleSampleStoredNotEvaluated(t *testing.T) {
	eng, st, r := newTestEngine(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	eng.Ingest(ctx, sample("veh-1", r.ID, awayLoc, t0))

	// Timestamped behind the last evaluated sample: audit only.
	_, evs, err := eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0.Add(-time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 0 {
		t.Fatalf("stale sample produced events: %+v", evs)
	}
	ps, _ := st.ListPositions(ctx, "veh-1", time.Time{}, 0)
	if len(ps) != 2 {
		t.Fatalf("positions stored: got %d, want 2", len(ps))
	}
}

func TestRateGateSkipsEvaluation(t *testing.T) {
	eng, st, r := newTestEngine(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	eng.Ingest(ctx, sample("veh-1", r.ID, awayLoc, t0))

	// 10s later, inside the fence: under the 30s minimum interval, so the
	// sample is stored but the enter does not fire yet.
	_, evs, err := eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0.Add(10*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 0 {
		t.Fatalf("rate-gated sample produced events: %+v", evs)
	}
	ps, _ := st.ListPositions(ctx, "veh-1", time.Time{}, 0)
	if len(ps) != 2 {
		t.Fatalf("positions stored: got %d, want 2", len(ps))
	}

	// 40s after the first sample the gate reopens.
	_, evs, err = eng.Ingest(ctx, sample("veh-1", r.ID, stopLoc, t0.Add(40*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != model.GeofenceEnter {
		t.Fatalf("got %+v, want enter after gate reopens", evs)
	}
}

func TestSamplesWithoutRouteAreAuditOnly(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()
	_, evs, err := eng.Ingest(ctx, sample("veh-2", "", stopLoc, time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 0 {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if _, err := st.LastPosition(ctx, "veh-2"); err != nil {
		t.Fatalf("position not stored: %v", err)
	}
}

func TestReorderedStopsKeepGeofenceChains(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	locA := model.GeoPoint{Lat: 52.0, Lng: 4.0}
	locB := model.GeoPoint{Lat: 52.05, Lng: 4.0} // ~5.5km north of A
	r, err := st.CreateRoute(ctx, model.Route{
		ID:     "route-2",
		Status: model.RouteActive,
		Stops: []model.RouteStop{
			{Seq: 0, PointID: "pA", Location: locA, PlannedTonnes: 1},
			{Seq: 1, PointID: "pB", Location: locB, PlannedTonnes: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateRoute: %v", err)
	}
	eng := NewEngine(st, Config{}, zerolog.Nop())
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Service stop A: enter, then leave the fence.
	if _, _, err := eng.Ingest(ctx, sample("veh-1", r.ID, locA, t0)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := eng.Ingest(ctx, sample("veh-1", r.ID, awayLoc, t0.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}

	// An optimization run reverses the stop order: B takes seq 0, A seq 1.
	cur, err := st.GetRoute(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	cur.Stops[0], cur.Stops[1] = cur.Stops[1], cur.Stops[0]
	cur.Stops[0].Seq = 0
	cur.Stops[1].Seq = 1
	if _, err := st.ApplyOptimization(ctx, cur, model.RouteOptimizationResult{ID: "opt-1", RouteID: r.ID}); err != nil {
		t.Fatalf("ApplyOptimization: %v", err)
	}

	// Arriving at B must open B's chain even though B now holds the seq
	// that A's stored events were emitted under.
	_, evs, err := eng.Ingest(ctx, sample("veh-1", r.ID, locB, t0.Add(2*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != model.GeofenceEnter || evs[0].PointID != "pB" {
		t.Fatalf("enter at B: got %+v", evs)
	}
	if evs[0].StopSeq != 0 {
		t.Fatalf("enter at B: seq %d, want current seq 0", evs[0].StopSeq)
	}

	// Passing A again must not reopen its completed chain. The only
	// transition is B's departure.
	_, evs, err = eng.Ingest(ctx, sample("veh-1", r.ID, locA, t0.Add(3*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != model.GeofenceExit || evs[0].PointID != "pB" {
		t.Fatalf("after reorder at A: got %+v, want only B exit", evs)
	}

	got, err := st.GetRoute(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range got.Stops {
		switch s.PointID {
		case "pA":
			if s.ArrivalAt == nil || !s.ArrivalAt.Equal(t0) {
				t.Fatalf("A arrival moved: %v", s.ArrivalAt)
			}
			if s.DepartureAt == nil || !s.DepartureAt.Equal(t0.Add(time.Minute)) {
				t.Fatalf("A departure moved: %v", s.DepartureAt)
			}
		case "pB":
			if s.ArrivalAt == nil || !s.ArrivalAt.Equal(t0.Add(2*time.Minute)) {
				t.Fatalf("B arrival: %v", s.ArrivalAt)
			}
			if !s.Completed {
				t.Fatal("B should complete after its exit")
			}
		}
	}
	all, _ := st.ListGeofenceEvents(ctx, r.ID)
	enters := map[string]int{}
	for _, ev := range all {
		if ev.Type == model.GeofenceEnter {
			enters[ev.PointID]++
		}
	}
	if enters["pA"] != 1 || enters["pB"] != 1 {
		t.Fatalf("enter counts: %v, want one per stop", enters)
	}
}

func TestRetentionCutoff(t *testing.T) {
	eng := NewEngine(store.NewMemory(), Config{RetentionDays: 7}, zerolog.Nop())
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := eng.RetentionCutoff(now); !got.Equal(now.AddDate(0, 0, -7)) {
		t.Fatalf("cutoff: got %v", got)
	}
}
