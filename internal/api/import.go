package api

import (
	"net/http"

	"fleetroute/internal/ingest"
)

// PointsImportHandler handles POST /v1/points/import. It accepts a CSV
// body of delivery points and returns them parsed, ready to be embedded
// in a plan request.
func (s *Server) PointsImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	points, err := ingest.ParseCSV(r.Body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}
	ungeocoded := 0
	for _, p := range points {
		if !p.Geocoded() {
			ungeocoded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points, "ungeocoded": ungeocoded})
}
