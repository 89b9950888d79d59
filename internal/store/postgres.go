package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetroute/internal/model"
)

// Postgres is the durable store, using the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping checks database connectivity, used by readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Migrate creates the schema if missing. Dev helper; production deployments
// run their own migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			id UUID PRIMARY KEY,
			version INT NOT NULL DEFAULT 1,
			plan_date TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			cluster_id TEXT NOT NULL DEFAULT '',
			vehicle_id TEXT NOT NULL DEFAULT '',
			vehicle_type TEXT NOT NULL DEFAULT '',
			capacity_tonnes DOUBLE PRECISION NOT NULL DEFAULT 0,
			depot_lat DOUBLE PRECISION NOT NULL,
			depot_lng DOUBLE PRECISION NOT NULL,
			total_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
			est_duration_min DOUBLE PRECISION NOT NULL DEFAULT 0,
			includes_return BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS route_stops (
			route_id UUID NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			point_id TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			planned_tonnes DOUBLE PRECISION NOT NULL DEFAULT 0,
			arrival_at TIMESTAMPTZ,
			departure_at TIMESTAMPTZ,
			completed BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (route_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS vehicle_positions (
			id UUID PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			route_id TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			speed_kmh DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading DOUBLE PRECISION NOT NULL DEFAULT 0,
			accuracy_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			moving BOOLEAN NOT NULL DEFAULT false,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_vehicle_ts ON vehicle_positions (vehicle_id, ts)`,
		`CREATE TABLE IF NOT EXISTS geofence_events (
			id UUID PRIMARY KEY,
			route_id UUID NOT NULL,
			point_id TEXT NOT NULL,
			stop_seq INT NOT NULL,
			position_id UUID NOT NULL,
			vehicle_id TEXT NOT NULL,
			type TEXT NOT NULL,
			dist_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_geofence_route_point ON geofence_events (route_id, point_id)`,
		`CREATE TABLE IF NOT EXISTS route_optimizations (
			id UUID PRIMARY KEY,
			route_id UUID NOT NULL,
			original_km DOUBLE PRECISION NOT NULL,
			original_min DOUBLE PRECISION NOT NULL,
			optimized_km DOUBLE PRECISION NOT NULL,
			optimized_min DOUBLE PRECISION NOT NULL,
			saved_km DOUBLE PRECISION NOT NULL,
			saved_min DOUBLE PRECISION NOT NULL,
			raw_delta_km DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS emissions_results (
			id UUID PRIMARY KEY,
			route_id UUID NOT NULL,
			method TEXT NOT NULL,
			segments JSONB,
			delivery_kg DOUBLE PRECISION NOT NULL,
			return_kg DOUBLE PRECISION NOT NULL,
			total_kg DOUBLE PRECISION NOT NULL,
			fuel_liters DOUBLE PRECISION NOT NULL,
			kg_per_tonne DOUBLE PRECISION NOT NULL,
			kg_per_km DOUBLE PRECISION NOT NULL,
			kg_per_tonne_km DOUBLE PRECISION NOT NULL,
			fallback_factor BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS plan_jobs (
			id UUID PRIMARY KEY,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			result JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	if r.Version == 0 {
		r.Version = 1
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Route{}, err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO routes (id, version, plan_date, status, cluster_id, vehicle_id, vehicle_type, capacity_tonnes, depot_lat, depot_lng, total_distance_km, est_duration_min, includes_return, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.Version, r.PlanDate, r.Status, r.ClusterID, r.VehicleID, r.VehicleType, r.CapacityTonnes,
		r.Depot.Lat, r.Depot.Lng, r.TotalDistanceKm, r.EstDurationMin, r.DistanceIncludesReturn, r.CreatedAt)
	if err != nil {
		return model.Route{}, err
	}
	if err := insertStops(ctx, tx, r.ID, r.Stops); err != nil {
		return model.Route{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Route{}, err
	}
	return r, nil
}

func insertStops(ctx context.Context, tx *sql.Tx, routeID string, stops []model.RouteStop) error {
	for _, s := range stops {
		_, err := tx.ExecContext(ctx, `INSERT INTO route_stops (route_id, seq, point_id, lat, lng, planned_tonnes, arrival_at, departure_at, completed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			routeID, s.Seq, s.PointID, s.Location.Lat, s.Location.Lng, s.PlannedTonnes, s.ArrivalAt, s.DepartureAt, s.Completed)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	var r model.Route
	row := p.db.QueryRowContext(ctx, `SELECT id::text, version, plan_date, status, cluster_id, vehicle_id, vehicle_type, capacity_tonnes, depot_lat, depot_lng, total_distance_km, est_duration_min, includes_return, created_at FROM routes WHERE id=$1`, routeID)
	if err := row.Scan(&r.ID, &r.Version, &r.PlanDate, &r.Status, &r.ClusterID, &r.VehicleID, &r.VehicleType, &r.CapacityTonnes,
		&r.Depot.Lat, &r.Depot.Lng, &r.TotalDistanceKm, &r.EstDurationMin, &r.DistanceIncludesReturn, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT seq, point_id, lat, lng, planned_tonnes, arrival_at, departure_at, completed FROM route_stops WHERE route_id=$1 ORDER BY seq`, routeID)
	if err != nil {
		return r, err
	}
	defer rows.Close()
	for rows.Next() {
		var s model.RouteStop
		var arr, dep sql.NullTime
		if err := rows.Scan(&s.Seq, &s.PointID, &s.Location.Lat, &s.Location.Lng, &s.PlannedTonnes, &arr, &dep, &s.Completed); err != nil {
			return r, err
		}
		if arr.Valid {
			t := arr.Time
			s.ArrivalAt = &t
		}
		if dep.Valid {
			t := dep.Time
			s.DepartureAt = &t
		}
		r.Stops = append(r.Stops, s)
	}
	return r, rows.Err()
}

func (p *Postgres) ListRoutes(ctx context.Context, status, cursor string, limit int) ([]model.Route, string, error) {
	if limit <= 0 {
		limit = 100
	}
	// Keyset paging on (created_at, id): rows sharing the cursor row's
	// timestamp must not be skipped.
	q := `SELECT id::text FROM routes WHERE ($1='' OR status=$1) AND ($2='' OR (created_at, id) > (SELECT created_at, id FROM routes WHERE id::text=$2)) ORDER BY created_at, id LIMIT $3`
	rows, err := p.db.QueryContext(ctx, q, status, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	out := []model.Route{}
	for _, id := range ids {
		r, err := p.GetRoute(ctx, id)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) PatchRoute(ctx context.Context, routeID string, patch model.RoutePatch) (model.Route, error) {
	cur, err := p.GetRoute(ctx, routeID)
	if err != nil {
		return model.Route{}, err
	}
	if patch.Status != "" && patch.Status != cur.Status && !model.CanTransition(cur.Status, patch.Status) {
		return model.Route{}, ErrConflict
	}
	// The transition check above ran on a plain read; the version guard
	// makes it safe against a concurrent patch racing between read and
	// update.
	out, err := p.db.ExecContext(ctx, `UPDATE routes SET
		status = CASE WHEN $1='' THEN status ELSE $1 END,
		vehicle_id = CASE WHEN $2='' THEN vehicle_id ELSE $2 END,
		vehicle_type = CASE WHEN $3='' THEN vehicle_type ELSE $3 END,
		capacity_tonnes = CASE WHEN $4<=0 THEN capacity_tonnes ELSE $4 END,
		version = version + 1
		WHERE id=$5 AND version=$6`,
		patch.Status, patch.VehicleID, patch.VehicleType, patch.CapacityTonnes, routeID, cur.Version)
	if err != nil {
		return model.Route{}, err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return model.Route{}, ErrConflict
	}
	return p.GetRoute(ctx, routeID)
}

func (p *Postgres) ApplyOptimization(ctx context.Context, r model.Route, res model.RouteOptimizationResult) (model.Route, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Route{}, err
	}
	defer func() { _ = tx.Rollback() }()
	out, err := tx.ExecContext(ctx, `UPDATE routes SET version=version+1, total_distance_km=$1, est_duration_min=$2 WHERE id=$3 AND version=$4`,
		r.TotalDistanceKm, r.EstDurationMin, r.ID, r.Version)
	if err != nil {
		return model.Route{}, err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		if _, err := p.GetRoute(ctx, r.ID); errors.Is(err, ErrNotFound) {
			return model.Route{}, ErrNotFound
		}
		return model.Route{}, ErrConflict
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM route_stops WHERE route_id=$1`, r.ID); err != nil {
		return model.Route{}, err
	}
	if err := insertStops(ctx, tx, r.ID, r.Stops); err != nil {
		return model.Route{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO route_optimizations (id, route_id, original_km, original_min, optimized_km, optimized_min, saved_km, saved_min, raw_delta_km, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		res.ID, res.RouteID, res.OriginalDistanceKm, res.OriginalDurationMin, res.OptimizedDistanceKm, res.OptimizedDurationMin,
		res.DistanceSavedKm, res.TimeSavedMin, res.RawDistanceDeltaKm, res.CreatedAt); err != nil {
		return model.Route{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Route{}, err
	}
	return p.GetRoute(ctx, r.ID)
}

func (p *Postgres) ListOptimizations(ctx context.Context, routeID string) ([]model.RouteOptimizationResult, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, route_id::text, original_km, original_min, optimized_km, optimized_min, saved_km, saved_min, raw_delta_km, created_at FROM route_optimizations WHERE route_id=$1 ORDER BY created_at`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RouteOptimizationResult{}
	for rows.Next() {
		var o model.RouteOptimizationResult
		if err := rows.Scan(&o.ID, &o.RouteID, &o.OriginalDistanceKm, &o.OriginalDurationMin, &o.OptimizedDistanceKm, &o.OptimizedDurationMin,
			&o.DistanceSavedKm, &o.TimeSavedMin, &o.RawDistanceDeltaKm, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertPosition(ctx context.Context, pos model.VehiclePosition) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicle_positions (id, vehicle_id, route_id, lat, lng, speed_kmh, heading, accuracy_m, moving, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		pos.ID, pos.VehicleID, pos.RouteID, pos.Location.Lat, pos.Location.Lng, pos.SpeedKmh, pos.Heading, pos.AccuracyM, pos.Moving, pos.Timestamp)
	return err
}

func (p *Postgres) LastPosition(ctx context.Context, vehicleID string) (model.VehiclePosition, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, vehicle_id, route_id, lat, lng, speed_kmh, heading, accuracy_m, moving, ts FROM vehicle_positions WHERE vehicle_id=$1 ORDER BY ts DESC LIMIT 1`, vehicleID)
	var pos model.VehiclePosition
	if err := row.Scan(&pos.ID, &pos.VehicleID, &pos.RouteID, &pos.Location.Lat, &pos.Location.Lng, &pos.SpeedKmh, &pos.Heading, &pos.AccuracyM, &pos.Moving, &pos.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pos, ErrNotFound
		}
		return pos, err
	}
	return pos, nil
}

func (p *Postgres) ListPositions(ctx context.Context, vehicleID string, since time.Time, limit int) ([]model.VehiclePosition, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, vehicle_id, route_id, lat, lng, speed_kmh, heading, accuracy_m, moving, ts FROM vehicle_positions
		WHERE vehicle_id=$1 AND ($2::timestamptz IS NULL OR ts >= $2) ORDER BY ts DESC LIMIT $3`, vehicleID, nullTime(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.VehiclePosition{}
	for rows.Next() {
		var pos model.VehiclePosition
		if err := rows.Scan(&pos.ID, &pos.VehicleID, &pos.RouteID, &pos.Location.Lat, &pos.Location.Lng, &pos.SpeedKmh, &pos.Heading, &pos.AccuracyM, &pos.Moving, &pos.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	// reverse to ascending time
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *Postgres) PurgePositions(ctx context.Context, cutoff time.Time) (int, error) {
	// Positions referenced by an enter without a matching exit stay until
	// the chain closes.
	res, err := p.db.ExecContext(ctx, `DELETE FROM vehicle_positions vp WHERE vp.ts < $1 AND NOT EXISTS (
		SELECT 1 FROM geofence_events e
		WHERE e.position_id = vp.id AND NOT EXISTS (
			SELECT 1 FROM geofence_events x
			WHERE x.route_id = e.route_id AND x.point_id = e.point_id AND x.type = 'exit'
		)
	)`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) InsertGeofenceEvent(ctx context.Context, e model.GeofenceEvent) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO geofence_events (id, route_id, point_id, stop_seq, position_id, vehicle_id, type, dist_m, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.RouteID, e.PointID, e.StopSeq, e.PositionID, e.VehicleID, e.Type, e.DistM, e.At)
	return err
}

func (p *Postgres) ListGeofenceEvents(ctx context.Context, routeID string) ([]model.GeofenceEvent, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, route_id::text, point_id, stop_seq, position_id::text, vehicle_id, type, dist_m, ts FROM geofence_events WHERE route_id=$1 ORDER BY ts`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.GeofenceEvent{}
	for rows.Next() {
		var e model.GeofenceEvent
		if err := rows.Scan(&e.ID, &e.RouteID, &e.PointID, &e.StopSeq, &e.PositionID, &e.VehicleID, &e.Type, &e.DistM, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) StampArrival(ctx context.Context, routeID string, stopSeq int, at time.Time) (model.Route, error) {
	_, err := p.db.ExecContext(ctx, `UPDATE route_stops SET arrival_at=$1 WHERE route_id=$2 AND seq=$3 AND arrival_at IS NULL`, at, routeID, stopSeq)
	if err != nil {
		return model.Route{}, err
	}
	return p.GetRoute(ctx, routeID)
}

func (p *Postgres) StampDeparture(ctx context.Context, routeID string, stopSeq int, at time.Time) (model.Route, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE route_stops SET departure_at=$1, completed=true WHERE route_id=$2 AND seq=$3 AND arrival_at IS NOT NULL AND departure_at IS NULL`, at, routeID, stopSeq)
	if err != nil {
		return model.Route{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// either already departed (fine) or no arrival yet
		var hasArrival bool
		row := p.db.QueryRowContext(ctx, `SELECT arrival_at IS NOT NULL FROM route_stops WHERE route_id=$1 AND seq=$2`, routeID, stopSeq)
		if err := row.Scan(&hasArrival); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.Route{}, ErrNotFound
			}
			return model.Route{}, err
		}
		if !hasArrival {
			return model.Route{}, ErrConflict
		}
	}
	return p.GetRoute(ctx, routeID)
}

func (p *Postgres) SaveEmissions(ctx context.Context, res model.EmissionsResult) error {
	segs, err := json.Marshal(res.Segments)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO emissions_results (id, route_id, method, segments, delivery_kg, return_kg, total_kg, fuel_liters, kg_per_tonne, kg_per_km, kg_per_tonne_km, fallback_factor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		res.ID, res.RouteID, res.Method, segs, res.DeliveryKg, res.ReturnKg, res.TotalKg, res.FuelLiters,
		res.KgPerTonne, res.KgPerKm, res.KgPerTonneKm, res.FallbackFactor, res.CreatedAt)
	return err
}

func (p *Postgres) LatestEmissions(ctx context.Context, routeID string) (model.EmissionsResult, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, route_id::text, method, segments, delivery_kg, return_kg, total_kg, fuel_liters, kg_per_tonne, kg_per_km, kg_per_tonne_km, fallback_factor, created_at
		FROM emissions_results WHERE route_id=$1 ORDER BY created_at DESC LIMIT 1`, routeID)
	var res model.EmissionsResult
	var segs []byte
	if err := row.Scan(&res.ID, &res.RouteID, &res.Method, &segs, &res.DeliveryKg, &res.ReturnKg, &res.TotalKg, &res.FuelLiters,
		&res.KgPerTonne, &res.KgPerKm, &res.KgPerTonneKm, &res.FallbackFactor, &res.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return res, ErrNotFound
		}
		return res, err
	}
	if len(segs) > 0 {
		_ = json.Unmarshal(segs, &res.Segments)
	}
	return res, nil
}

func (p *Postgres) SavePlanJob(ctx context.Context, job model.PlanJob) error {
	var result []byte
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return err
		}
		result = b
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO plan_jobs (id, status, error, result, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET status=$2, error=$3, result=$4, updated_at=$6`,
		job.ID, job.Status, job.Error, result, job.CreatedAt, job.UpdatedAt)
	return err
}

func (p *Postgres) GetPlanJob(ctx context.Context, jobID string) (model.PlanJob, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, status, error, result, created_at, updated_at FROM plan_jobs WHERE id=$1`, jobID)
	var job model.PlanJob
	var result []byte
	if err := row.Scan(&job.ID, &job.Status, &job.Error, &result, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, ErrNotFound
		}
		return job, err
	}
	if len(result) > 0 {
		var pr model.PlanResult
		if err := json.Unmarshal(result, &pr); err == nil {
			job.Result = &pr
		}
	}
	return job, nil
}
