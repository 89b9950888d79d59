package api

import (
	"net/http"
	"time"

	"fleetroute/internal/buildinfo"
)

// DebugHandler reports build info and a sanitized view of the running
// configuration. Secrets stay out; only presence flags for the URLs.
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"addr":                  s.Cfg.HTTP.Addr,
			"hasDatabaseUrl":        s.Cfg.Database.URL != "",
			"hasRedisUrl":           s.Cfg.Redis.URL != "",
			"hasRoutingBaseUrl":     s.Cfg.Routing.BaseURL != "",
			"maxStopsPerRoute":      s.Cfg.Planning.MaxStopsPerRoute,
			"maxDistanceKm":         s.Cfg.Planning.MaxDistanceKm,
			"geofenceRadiusM":       s.Cfg.Tracking.GeofenceRadiusM,
			"dwellAfter":            s.Cfg.Tracking.DwellAfter.String(),
			"minInterval":           s.Cfg.Tracking.MinInterval.String(),
			"positionRetentionDays": s.Cfg.Tracking.RetentionDays,
		},
	})
}
