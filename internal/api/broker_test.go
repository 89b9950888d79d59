package api

import (
	"testing"
)

func TestBrokerFanout(t *testing.T) {
	b := NewBroker()
	ch1 := b.Subscribe("route:r1")
	ch2 := b.Subscribe("route:r1")
	other := b.Subscribe("route:r2")
	defer b.Unsubscribe("route:r2", other)

	b.Publish("route:r1", Event{Type: "route.updated", Data: map[string]any{"routeId": "r1"}})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != "route.updated" {
				t.Fatalf("type: %s", evt.Type)
			}
		default:
			t.Fatal("subscriber missed event")
		}
	}
	select {
	case <-other:
		t.Fatal("event leaked across topics")
	default:
	}

	b.Unsubscribe("route:r1", ch1)
	b.Unsubscribe("route:r1", ch2)
	// publish to drained topic must not panic
	b.Publish("route:r1", Event{Type: "route.updated"})
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("tracking")
	defer b.Unsubscribe("tracking", ch)
	for i := 0; i < 20; i++ {
		b.Publish("tracking", Event{Type: "position"})
	}
	// buffered at 8; overflow dropped, publisher never blocked
	if n := len(ch); n != cap(ch) {
		t.Fatalf("buffered: got %d, want %d", n, cap(ch))
	}
}

func TestLocationCacheKeepsNewest(t *testing.T) {
	c := NewLocationCache()
	c.Upsert(LatestLocation{VehicleID: "v1", Lat: 1, TS: "2026-03-10T09:05:00Z"})
	c.Upsert(LatestLocation{VehicleID: "v1", Lat: 2, TS: "2026-03-10T09:00:00Z"}) // older, ignored
	c.Upsert(LatestLocation{VehicleID: "v2", Lat: 3, TS: "2026-03-10T09:01:00Z"})
	c.Upsert(LatestLocation{TS: "2026-03-10T09:01:00Z"}) // no vehicle id, ignored

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot: %d entries", len(snap))
	}
	for _, l := range snap {
		if l.VehicleID == "v1" && l.Lat != 1 {
			t.Fatalf("older sample overwrote newer: %+v", l)
		}
	}
}
