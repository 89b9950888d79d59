package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"fleetroute/internal/model"
)

// OSRMProvider talks to an OSRM-compatible HTTP backend. Ordered mode uses
// the route service, optimize mode the trip service. Safe for concurrent use.
type OSRMProvider struct {
	client   *http.Client
	baseURL  string
	profile  string
	attempts int
	backoff  time.Duration
}

// NewOSRMProvider builds a provider against baseURL (e.g.
// "https://router.project-osrm.org"). Timeout bounds each HTTP attempt;
// attempts is the total try budget including the first call.
func NewOSRMProvider(baseURL string, timeout time.Duration, attempts int) (*OSRMProvider, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("routing base URL is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if attempts <= 0 {
		attempts = 2
	}
	return &OSRMProvider{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		profile:  "driving",
		attempts: attempts,
		backoff:  250 * time.Millisecond,
	}, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("routing backend returned %d: %s", e.Code, e.Body)
}

func (o *OSRMProvider) GetRouteDistance(ctx context.Context, waypoints []model.GeoPoint, optimize, returnToOrigin bool) (Result, error) {
	if len(waypoints) < 2 {
		return Result{}, errors.New("need at least 2 waypoints")
	}
	coords := make([]string, 0, len(waypoints))
	for _, wp := range waypoints {
		coords = append(coords, fmt.Sprintf("%f,%f", wp.Lng, wp.Lat))
	}
	if optimize {
		return o.trip(ctx, coords, returnToOrigin)
	}
	if returnToOrigin {
		coords = append(coords, coords[0])
	}
	return o.route(ctx, coords)
}

// route measures the waypoints exactly as ordered.
func (o *OSRMProvider) route(ctx context.Context, coords []string) (Result, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=false", o.baseURL, o.profile, strings.Join(coords, ";"))
	var body struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
	}
	if err := o.getJSON(ctx, url, &body); err != nil {
		return Result{}, err
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Result{}, fmt.Errorf("routing backend code %q", body.Code)
	}
	return Result{
		DistanceKm:  body.Routes[0].Distance / 1000,
		DurationMin: body.Routes[0].Duration / 60,
	}, nil
}

// trip asks the backend for a reordered tour. The first waypoint stays the
// tour start; roundtrip mirrors returnToOrigin.
func (o *OSRMProvider) trip(ctx context.Context, coords []string, roundtrip bool) (Result, error) {
	url := fmt.Sprintf("%s/trip/v1/%s/%s?overview=false&source=first&roundtrip=%t",
		o.baseURL, o.profile, strings.Join(coords, ";"), roundtrip)
	var body struct {
		Code  string `json:"code"`
		Trips []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"trips"`
		Waypoints []struct {
			WaypointIndex int `json:"waypoint_index"`
		} `json:"waypoints"`
	}
	if err := o.getJSON(ctx, url, &body); err != nil {
		return Result{}, err
	}
	if body.Code != "Ok" || len(body.Trips) == 0 {
		return Result{}, fmt.Errorf("routing backend code %q", body.Code)
	}
	// waypoints[i].waypoint_index is input i's position in the tour; invert
	// it into tour-position -> input-index form.
	order := make([]int, len(body.Waypoints))
	for i, wp := range body.Waypoints {
		if wp.WaypointIndex < 0 || wp.WaypointIndex >= len(order) {
			return Result{}, fmt.Errorf("routing backend returned waypoint index %d out of range", wp.WaypointIndex)
		}
		order[wp.WaypointIndex] = i
	}
	return Result{
		DistanceKm:     body.Trips[0].Distance / 1000,
		DurationMin:    body.Trips[0].Duration / 60,
		OptimizedOrder: order,
	}, nil
}

// getJSON fetches url with retry on transient failures (network errors,
// 429/5xx), honoring context cancellation between attempts.
func (o *OSRMProvider) getJSON(ctx context.Context, url string, out any) error {
	backoff := o.backoff
	var lastErr error
	for attempt := 1; attempt <= o.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = o.once(ctx, url, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == o.attempts {
			return lastErr
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return lastErr
}

func (o *OSRMProvider) once(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func retryable(err error) bool {
	var he *httpStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
