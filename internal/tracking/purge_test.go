package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

func TestPurgerProcessOnce(t *testing.T) {
	st := store.NewMemory()
	eng := NewEngine(st, Config{RetentionDays: 30}, zerolog.Nop())
	p := NewPurger(st, eng, zerolog.Nop())
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -45)
	st.InsertPosition(ctx, model.VehiclePosition{ID: "pos-old", VehicleID: "v1", Timestamp: old})
	st.InsertPosition(ctx, model.VehiclePosition{ID: "pos-new", VehicleID: "v1", Timestamp: time.Now().UTC()})
	// Old sample still referenced by an enter with no exit.
	st.InsertPosition(ctx, model.VehiclePosition{ID: "pos-held", VehicleID: "v2", Timestamp: old})
	st.InsertGeofenceEvent(ctx, model.GeofenceEvent{ID: "e1", RouteID: "r1", PointID: "p0", PositionID: "pos-held", Type: model.GeofenceEnter, At: old})

	p.processOnce()

	ps, _ := st.ListPositions(ctx, "v1", time.Time{}, 0)
	if len(ps) != 1 || ps[0].ID != "pos-new" {
		t.Fatalf("v1 positions after purge: %+v", ps)
	}
	held, _ := st.ListPositions(ctx, "v2", time.Time{}, 0)
	if len(held) != 1 || held[0].ID != "pos-held" {
		t.Fatalf("open-chain position must survive: %+v", held)
	}
}

func TestPurgerRunsOnTicker(t *testing.T) {
	st := store.NewMemory()
	eng := NewEngine(st, Config{RetentionDays: 30}, zerolog.Nop())
	p := NewPurger(st, eng, zerolog.Nop())
	p.Interval = 5 * time.Millisecond
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -45)
	st.InsertPosition(ctx, model.VehiclePosition{ID: "pos-old", VehicleID: "v1", Timestamp: old})

	p.Start()
	defer close(p.Stop)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ps, _ := st.ListPositions(ctx, "v1", time.Time{}, 0)
		if len(ps) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("ticker never purged the old position")
}
