package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fleetroute/internal/model"
)

// CSVSource reads delivery points from a CSV file. Expected header:
// id,name,lat,lng,mass_tonnes,priority_days. lat/lng may be empty for
// points the upstream system failed to geocode.
type CSVSource struct {
	Path string
}

func (s CSVSource) Name() string { return "csv" }

func (s CSVSource) Fetch(ctx context.Context) ([]model.DeliveryPoint, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV decodes delivery points from CSV. The first row must be a
// header; column order follows the header, unknown columns are ignored.
func ParseCSV(r io.Reader) ([]model.DeliveryPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["id"]; !ok {
		return nil, fmt.Errorf("csv header missing id column")
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var points []model.DeliveryPoint
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := model.DeliveryPoint{
			ID:   field(rec, "id"),
			Name: field(rec, "name"),
		}
		if p.ID == "" {
			return nil, fmt.Errorf("line %d: empty id", line)
		}
		latS, lngS := field(rec, "lat"), field(rec, "lng")
		if latS != "" && lngS != "" {
			lat, err := strconv.ParseFloat(latS, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad lat %q", line, latS)
			}
			lng, err := strconv.ParseFloat(lngS, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad lng %q", line, lngS)
			}
			p.Location = &model.GeoPoint{Lat: lat, Lng: lng}
		}
		if v := field(rec, "mass_tonnes"); v != "" {
			m, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad mass_tonnes %q", line, v)
			}
			p.MassTonnes = m
		}
		if v := field(rec, "priority_days"); v != "" {
			d, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad priority_days %q", line, v)
			}
			p.PriorityDays = d
		}
		points = append(points, p)
	}
	return points, nil
}
