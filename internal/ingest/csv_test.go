package ingest

import (
	"strings"
	"testing"
)

func TestParseCSV(t *testing.T) {
	in := `id,name,lat,lng,mass_tonnes,priority_days
p1,Bakery North,52.37,4.89,1.5,2
p2,No Coords,,,0.8,5
p3,Depot Shop,51.92,4.47,2.0,
`
	points, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("points: got %d, want 3", len(points))
	}
	if points[0].ID != "p1" || points[0].Location == nil || points[0].Location.Lat != 52.37 {
		t.Fatalf("p1: %+v", points[0])
	}
	if points[0].MassTonnes != 1.5 || points[0].PriorityDays != 2 {
		t.Fatalf("p1 attrs: %+v", points[0])
	}
	if points[1].Location != nil {
		t.Fatalf("p2 should be ungeocoded: %+v", points[1])
	}
	if points[2].PriorityDays != 0 {
		t.Fatalf("p3 empty priority: %+v", points[2])
	}
}

func TestParseCSVColumnOrderFromHeader(t *testing.T) {
	in := "lat,lng,id\n52.0,4.0,x1\n"
	points, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if points[0].ID != "x1" || points[0].Location.Lng != 4.0 {
		t.Fatalf("reordered columns: %+v", points[0])
	}
}

func TestParseCSVErrors(t *testing.T) {
	cases := map[string]string{
		"missing id column": "name,lat\nfoo,52\n",
		"empty id":          "id,lat,lng\n,52,4\n",
		"bad lat":           "id,lat,lng\np1,north,4\n",
		"bad mass":          "id,lat,lng,mass_tonnes\np1,52,4,heavy\n",
	}
	for name, in := range cases {
		if _, err := ParseCSV(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
