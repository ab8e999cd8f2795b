package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/railsim/railsim_core/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore persists the simulation in a single SQLite file
type SQLiteStore struct {
	conn    *sql.DB
	writeMu sync.Mutex // one writer at a time
}

// NewSQLiteStore opens a SQLite database with WAL mode and foreign keys enabled
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			log.Printf("Warning: failed to set %s: %v", pragma, err)
		}
	}

	log.Printf("Connected to SQLite database: %s", path)
	return &SQLiteStore{conn: conn}, nil
}

// EnsureSchema creates tables if they don't exist
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() {
	if err := s.conn.Close(); err != nil {
		log.Printf("Warning: failed to close database: %v", err)
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

const sqliteUpsertState = `
	INSERT INTO simulation_state (id, simulation_id, sim_time_ns, time_scale, running,
		started_at_ns, last_updated_ns, last_pass_id, passes)
	VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		simulation_id = excluded.simulation_id,
		sim_time_ns = excluded.sim_time_ns,
		time_scale = excluded.time_scale,
		running = excluded.running,
		started_at_ns = excluded.started_at_ns,
		last_updated_ns = excluded.last_updated_ns,
		last_pass_id = excluded.last_pass_id,
		passes = excluded.passes
`

func stateArgs(st models.SimulationState) []any {
	return []any{
		st.SimulationID, toNanos(st.CurrentTime), st.TimeScale, st.Running,
		toNanos(st.StartedAt), toNanos(st.LastUpdated), st.LastPassID, st.Passes,
	}
}

func (s *SQLiteStore) LoadState(ctx context.Context) (*models.SimulationState, error) {
	var (
		st                       models.SimulationState
		current, started, update int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT simulation_id, sim_time_ns, time_scale, running, started_at_ns,
			last_updated_ns, last_pass_id, passes
		FROM simulation_state WHERE id = 1
	`).Scan(&st.SimulationID, &current, &st.TimeScale, &st.Running, &started, &update, &st.LastPassID, &st.Passes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load simulation state: %w", err)
	}
	st.CurrentTime = fromNanos(current)
	st.StartedAt = fromNanos(started)
	st.LastUpdated = fromNanos(update)
	return &st, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, state models.SimulationState) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, sqliteUpsertState, stateArgs(state)...); err != nil {
		return fmt.Errorf("failed to save simulation state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTracks(ctx context.Context) ([]models.Track, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, from_station_id, to_station_id, length_km, gauge,
			max_speed_kmh, track_condition, electrified, bidirectional
		FROM track ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.Name, &t.FromStationID, &t.ToStationID, &t.LengthKm, &t.Gauge,
			&t.MaxSpeedKmh, &t.Condition, &t.Electrified, &t.Bidirectional); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func (s *SQLiteStore) ListStations(ctx context.Context) ([]models.Station, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, lat, lon, station_type, platform_count, platform_classes
		FROM station ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var (
			st      models.Station
			classes string
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &st.StationType, &st.PlatformCount, &classes); err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		st.PlatformClasses = decodeClasses(classes)
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *SQLiteStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, kind, weight_tonnes, capacity, max_speed_kmh, brake_type
		FROM vehicle ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.Kind, &v.WeightTonnes, &v.Capacity, &v.MaxSpeedKmh, &v.BrakeType); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *SQLiteStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, name, waypoints FROM route ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []models.Route
	for rows.Next() {
		var (
			r    models.Route
			data []byte
		)
		if err := rows.Scan(&r.ID, &r.Name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		if r.Waypoints, err = decodeWaypoints(data); err != nil {
			return nil, fmt.Errorf("route %s: %w", r.ID, err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *SQLiteStore) ListTrains(ctx context.Context) ([]models.Train, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, route_id, scheduled_departure_ns, runtime
		FROM train ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trains: %w", err)
	}
	defer rows.Close()

	var trains []models.Train
	for rows.Next() {
		var (
			t         models.Train
			departure int64
			runtime   []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.RouteID, &departure, &runtime); err != nil {
			return nil, fmt.Errorf("failed to scan train: %w", err)
		}
		t.ScheduledDeparture = fromNanos(departure)
		if err := t.UnmarshalRuntime(runtime); err != nil {
			return nil, fmt.Errorf("train %s: failed to decode runtime: %w", t.ID, err)
		}
		trains = append(trains, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	comps, err := s.compositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range trains {
		trains[i].Vehicles = comps[trains[i].ID]
	}
	return trains, nil
}

func (s *SQLiteStore) compositions(ctx context.Context) (map[string][]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT train_id, vehicle_id FROM train_vehicle ORDER BY train_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query compositions: %w", err)
	}
	defer rows.Close()

	var result []compositionRow
	for rows.Next() {
		var r compositionRow
		if err := rows.Scan(&r.trainID, &r.vehicleID); err != nil {
			return nil, fmt.Errorf("failed to scan composition: %w", err)
		}
		result = append(result, r)
	}
	return groupVehicles(result), rows.Err()
}

func (s *SQLiteStore) ListPassengers(ctx context.Context) ([]models.StationPassengers, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT station_id, since_ns, generated, waiting, arrived
		FROM station_passengers ORDER BY station_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query passengers: %w", err)
	}
	defer rows.Close()

	var result []models.StationPassengers
	for rows.Next() {
		var (
			p       models.StationPassengers
			since   int64
			waiting string
		)
		if err := rows.Scan(&p.StationID, &since, &p.Generated, &waiting, &p.Arrived); err != nil {
			return nil, fmt.Errorf("failed to scan passengers: %w", err)
		}
		p.Since = fromNanos(since)
		if p.Waiting, err = decodeWaiting([]byte(waiting)); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const upsertPassengers = `
	INSERT INTO station_passengers (station_id, since_ns, generated, waiting, arrived)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (station_id) DO UPDATE SET
		since_ns = excluded.since_ns,
		generated = excluded.generated,
		waiting = excluded.waiting,
		arrived = excluded.arrived
`

// CommitPass writes the clock, every train runtime and the passenger records in one transaction
func (s *SQLiteStore) CommitPass(ctx context.Context, state models.SimulationState, trains []*models.Train, passengers []models.StationPassengers) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqliteUpsertState, stateArgs(state)...); err != nil {
		return fmt.Errorf("failed to save simulation state: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE train SET status = ?, delay_seconds = ?, runtime = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare train statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range trains {
		runtime, err := encodeRuntime(t)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, string(t.Runtime.Status), int64(t.Runtime.Delay/time.Second), runtime, t.ID); err != nil {
			return fmt.Errorf("failed to update train %s: %w", t.ID, err)
		}
	}

	for _, p := range passengers {
		waiting, err := encodeWaiting(p.Waiting)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertPassengers,
			p.StationID, toNanos(p.Since), p.Generated, waiting, p.Arrived,
		); err != nil {
			return fmt.Errorf("failed to save passengers at %s: %w", p.StationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pass: %w", err)
	}
	return nil
}

// SaveComposition replaces the ordered vehicle list of a train
func (s *SQLiteStore) SaveComposition(ctx context.Context, trainID string, vehicleIDs []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sqliteWriteComposition(ctx, tx, trainID, vehicleIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit composition: %w", err)
	}
	return nil
}

func sqliteWriteComposition(ctx context.Context, tx *sql.Tx, trainID string, vehicleIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM train_vehicle WHERE train_id = ?`, trainID); err != nil {
		return fmt.Errorf("failed to clear composition of train %s: %w", trainID, err)
	}
	for pos, vid := range vehicleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO train_vehicle (train_id, position, vehicle_id) VALUES (?, ?, ?)`,
			trainID, pos, vid,
		); err != nil {
			return fmt.Errorf("failed to assign vehicle %s to train %s: %w", vid, trainID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertTrack(ctx context.Context, t models.Track) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO track (id, name, from_station_id, to_station_id, length_km, gauge,
			max_speed_kmh, track_condition, electrified, bidirectional)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			from_station_id = excluded.from_station_id,
			to_station_id = excluded.to_station_id,
			length_km = excluded.length_km,
			gauge = excluded.gauge,
			max_speed_kmh = excluded.max_speed_kmh,
			track_condition = excluded.track_condition,
			electrified = excluded.electrified,
			bidirectional = excluded.bidirectional
	`, t.ID, t.Name, t.FromStationID, t.ToStationID, t.LengthKm, t.Gauge,
		t.MaxSpeedKmh, string(t.Condition), t.Electrified, t.Bidirectional)
	if err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertStation(ctx context.Context, st models.Station) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO station (id, name, lat, lon, station_type, platform_count, platform_classes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			lat = excluded.lat,
			lon = excluded.lon,
			station_type = excluded.station_type,
			platform_count = excluded.platform_count,
			platform_classes = excluded.platform_classes
	`, st.ID, st.Name, st.Lat, st.Lon, st.StationType, st.PlatformCount, encodeClasses(st.PlatformClasses))
	if err != nil {
		return fmt.Errorf("failed to upsert station %s: %w", st.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertVehicle(ctx context.Context, v models.Vehicle) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO vehicle (id, name, kind, weight_tonnes, capacity, max_speed_kmh, brake_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			weight_tonnes = excluded.weight_tonnes,
			capacity = excluded.capacity,
			max_speed_kmh = excluded.max_speed_kmh,
			brake_type = excluded.brake_type
	`, v.ID, v.Name, string(v.Kind), v.WeightTonnes, v.Capacity, v.MaxSpeedKmh, string(v.BrakeType))
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertRoute(ctx context.Context, r models.Route) error {
	waypoints, err := encodeWaypoints(r.Waypoints)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO route (id, name, waypoints) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, waypoints = excluded.waypoints
	`, r.ID, r.Name, waypoints)
	if err != nil {
		return fmt.Errorf("failed to upsert route %s: %w", r.ID, err)
	}
	return nil
}

// UpsertTrain writes the train record and its composition
func (s *SQLiteStore) UpsertTrain(ctx context.Context, t models.Train) error {
	runtime, err := encodeRuntime(&t)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO train (id, name, route_id, scheduled_departure_ns, status, delay_seconds, runtime)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			route_id = excluded.route_id,
			scheduled_departure_ns = excluded.scheduled_departure_ns,
			status = excluded.status,
			delay_seconds = excluded.delay_seconds,
			runtime = excluded.runtime
	`, t.ID, t.Name, t.RouteID, toNanos(t.ScheduledDeparture), string(t.Runtime.Status),
		int64(t.Runtime.Delay/time.Second), runtime)
	if err != nil {
		return fmt.Errorf("failed to upsert train %s: %w", t.ID, err)
	}
	if err := sqliteWriteComposition(ctx, tx, t.ID, t.Vehicles); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit train %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTrain(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM train WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete train %s: %w", id, err)
	}
	return nil
}
