package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fleetroute/internal/model"
)

var testPoints = []model.GeoPoint{
	{Lat: 52.00, Lng: 4.00}, // depot
	{Lat: 52.20, Lng: 4.00},
	{Lat: 52.05, Lng: 4.00},
	{Lat: 52.10, Lng: 4.00},
}

func TestLocalOrderedMeasuresAsGiven(t *testing.T) {
	p := &LocalProvider{}
	res, err := p.GetRouteDistance(context.Background(), testPoints, false, false)
	if err != nil {
		t.Fatalf("GetRouteDistance: %v", err)
	}
	if res.OptimizedOrder != nil {
		t.Fatal("ordered mode must not return a reordering")
	}
	if res.DistanceKm <= 0 || res.DurationMin <= 0 {
		t.Fatalf("result: %+v", res)
	}

	withReturn, err := p.GetRouteDistance(context.Background(), testPoints, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if withReturn.DistanceKm <= res.DistanceKm {
		t.Fatalf("round trip %v should exceed one-way %v", withReturn.DistanceKm, res.DistanceKm)
	}
}

func TestLocalOptimizeImprovesBadOrder(t *testing.T) {
	p := &LocalProvider{}
	ordered, _ := p.GetRouteDistance(context.Background(), testPoints, false, false)
	optimized, err := p.GetRouteDistance(context.Background(), testPoints, true, false)
	if err != nil {
		t.Fatal(err)
	}
	// The input zig-zags along a line; sorted order is clearly shorter.
	if optimized.DistanceKm >= ordered.DistanceKm {
		t.Fatalf("optimized %v not shorter than ordered %v", optimized.DistanceKm, ordered.DistanceKm)
	}
	if len(optimized.OptimizedOrder) != len(testPoints) {
		t.Fatalf("order length: %d", len(optimized.OptimizedOrder))
	}
	if optimized.OptimizedOrder[0] != 0 {
		t.Fatalf("depot anchor moved: %v", optimized.OptimizedOrder)
	}
	seen := map[int]bool{}
	for _, i := range optimized.OptimizedOrder {
		if seen[i] {
			t.Fatalf("duplicate index in order: %v", optimized.OptimizedOrder)
		}
		seen[i] = true
	}
}

func TestLocalTooFewWaypoints(t *testing.T) {
	p := &LocalProvider{}
	if _, err := p.GetRouteDistance(context.Background(), testPoints[:1], false, false); err == nil {
		t.Fatal("expected error for one waypoint")
	}
}

func TestOSRMOrderedRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// returnToOrigin appends the first coordinate again: 5 pairs
		coordPart := strings.TrimPrefix(r.URL.Path, "/route/v1/driving/")
		if got := len(strings.Split(coordPart, ";")); got != 5 {
			t.Errorf("coords: got %d, want 5", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":123000,"duration":5400}]}`))
	}))
	defer srv.Close()

	p, err := NewOSRMProvider(srv.URL, time.Second, 1)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.GetRouteDistance(context.Background(), testPoints, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.DistanceKm != 123 || res.DurationMin != 90 {
		t.Fatalf("result: %+v", res)
	}
}

func TestOSRMTripInvertsWaypointIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/trip/v1/driving/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("source") != "first" || q.Get("roundtrip") != "false" {
			t.Errorf("query: %v", q)
		}
		// input 0 is tour position 0, input 1 -> position 3,
		// input 2 -> position 1, input 3 -> position 2
		w.Write([]byte(`{"code":"Ok","trips":[{"distance":80000,"duration":3600}],
			"waypoints":[{"waypoint_index":0},{"waypoint_index":3},{"waypoint_index":1},{"waypoint_index":2}]}`))
	}))
	defer srv.Close()

	p, _ := NewOSRMProvider(srv.URL, time.Second, 1)
	res, err := p.GetRouteDistance(context.Background(), testPoints, true, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 2, 3, 1}
	for i, v := range res.OptimizedOrder {
		if v != want[i] {
			t.Fatalf("order: got %v, want %v", res.OptimizedOrder, want)
		}
	}
}

func TestOSRMRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1000,"duration":60}]}`))
	}))
	defer srv.Close()

	p, _ := NewOSRMProvider(srv.URL, time.Second, 3)
	p.backoff = time.Millisecond
	res, err := p.GetRouteDistance(context.Background(), testPoints, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.DistanceKm != 1 {
		t.Fatalf("result: %+v", res)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls: got %d, want 2", calls)
	}
}

func TestOSRMDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p, _ := NewOSRMProvider(srv.URL, time.Second, 3)
	if _, err := p.GetRouteDistance(context.Background(), testPoints, false, false); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("400 retried: %d calls", calls)
	}
}
