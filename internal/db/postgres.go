package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railsim/railsim_core/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore persists the simulation in PostgreSQL through a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool configured from cfg
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	pool, err := initPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromURL connects using a connection URL such as DATABASE_URL
func NewPostgresStoreFromURL(ctx context.Context, url string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	pool, err := connectPool(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// initPool creates and initializes a new pgxpool.Pool
func initPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.User,
		cfg.Password,
		cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConns = cfg.MaxConns

	// Transaction-mode poolers reject named prepared statements
	if cfg.Port == 6543 {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	return connectPool(ctx, poolConfig)
}

func connectPool(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates tables if they don't exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

const pgUpsertState = `
	INSERT INTO simulation_state (id, simulation_id, sim_time_ns, time_scale, running,
		started_at_ns, last_updated_ns, last_pass_id, passes)
	VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		simulation_id = EXCLUDED.simulation_id,
		sim_time_ns = EXCLUDED.sim_time_ns,
		time_scale = EXCLUDED.time_scale,
		running = EXCLUDED.running,
		started_at_ns = EXCLUDED.started_at_ns,
		last_updated_ns = EXCLUDED.last_updated_ns,
		last_pass_id = EXCLUDED.last_pass_id,
		passes = EXCLUDED.passes
`

func (s *PostgresStore) LoadState(ctx context.Context) (*models.SimulationState, error) {
	var (
		st                       models.SimulationState
		current, started, update int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT simulation_id, sim_time_ns, time_scale, running, started_at_ns,
			last_updated_ns, last_pass_id, passes
		FROM simulation_state WHERE id = 1
	`).Scan(&st.SimulationID, &current, &st.TimeScale, &st.Running, &started, &update, &st.LastPassID, &st.Passes)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) SaveState(ctx context.Context, state models.SimulationState) error {
	if _, err := s.pool.Exec(ctx, pgUpsertState, stateArgs(state)...); err != nil {
		return fmt.Errorf("failed to save simulation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTracks(ctx context.Context) ([]models.Track, error) {
	rows, err := s.pool.Query(ctx, `
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
		var (
			t         models.Track
			condition string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.FromStationID, &t.ToStationID, &t.LengthKm, &t.Gauge,
			&t.MaxSpeedKmh, &condition, &t.Electrified, &t.Bidirectional); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		t.Condition = models.TrackCondition(condition)
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func (s *PostgresStore) ListStations(ctx context.Context) ([]models.Station, error) {
	rows, err := s.pool.Query(ctx, `
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

func (s *PostgresStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, weight_tonnes, capacity, max_speed_kmh, brake_type
		FROM vehicle ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var (
			v           models.Vehicle
			kind, brake string
		)
		if err := rows.Scan(&v.ID, &v.Name, &kind, &v.WeightTonnes, &v.Capacity, &v.MaxSpeedKmh, &brake); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		v.Kind = models.VehicleKind(kind)
		v.BrakeType = models.BrakeType(brake)
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *PostgresStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, waypoints FROM route ORDER BY id`)
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

func (s *PostgresStore) ListTrains(ctx context.Context) ([]models.Train, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, route_id, scheduled_departure_ns, runtime
		FROM train ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trains: %w", err)
	}

	var trains []models.Train
	for rows.Next() {
		var (
			t         models.Train
			departure int64
			runtime   []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.RouteID, &departure, &runtime); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan train: %w", err)
		}
		t.ScheduledDeparture = fromNanos(departure)
		if err := t.UnmarshalRuntime(runtime); err != nil {
			rows.Close()
			return nil, fmt.Errorf("train %s: failed to decode runtime: %w", t.ID, err)
		}
		trains = append(trains, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	compRows, err := s.pool.Query(ctx, `SELECT train_id, vehicle_id FROM train_vehicle ORDER BY train_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query compositions: %w", err)
	}
	defer compRows.Close()

	var result []compositionRow
	for compRows.Next() {
		var r compositionRow
		if err := compRows.Scan(&r.trainID, &r.vehicleID); err != nil {
			return nil, fmt.Errorf("failed to scan composition: %w", err)
		}
		result = append(result, r)
	}
	if err := compRows.Err(); err != nil {
		return nil, err
	}

	comps := groupVehicles(result)
	for i := range trains {
		trains[i].Vehicles = comps[trains[i].ID]
	}
	return trains, nil
}

func (s *PostgresStore) ListPassengers(ctx context.Context) ([]models.StationPassengers, error) {
	rows, err := s.pool.Query(ctx, `
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
			waiting []byte
		)
		if err := rows.Scan(&p.StationID, &since, &p.Generated, &waiting, &p.Arrived); err != nil {
			return nil, fmt.Errorf("failed to scan passengers: %w", err)
		}
		p.Since = fromNanos(since)
		if p.Waiting, err = decodeWaiting(waiting); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CommitPass writes the clock, every train runtime and the passenger records in one transaction
func (s *PostgresStore) CommitPass(ctx context.Context, state models.SimulationState, trains []*models.Train, passengers []models.StationPassengers) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(pgUpsertState, stateArgs(state)...)
	for _, t := range trains {
		runtime, err := encodeRuntime(t)
		if err != nil {
			return err
		}
		batch.Queue(`UPDATE train SET status = $1, delay_seconds = $2, runtime = $3 WHERE id = $4`,
			string(t.Runtime.Status), int64(t.Runtime.Delay/time.Second), runtime, t.ID)
	}
	for _, p := range passengers {
		waiting, err := encodeWaiting(p.Waiting)
		if err != nil {
			return err
		}
		batch.Queue(upsertPassengers, p.StationID, toNanos(p.Since), p.Generated, waiting, p.Arrived)
	}

	if err := execBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("failed to write pass: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pass: %w", err)
	}
	return nil
}

// SaveComposition replaces the ordered vehicle list of a train
func (s *PostgresStore) SaveComposition(ctx context.Context, trainID string, vehicleIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := execBatch(ctx, tx, compositionBatch(trainID, vehicleIDs)); err != nil {
		return fmt.Errorf("failed to save composition of train %s: %w", trainID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit composition: %w", err)
	}
	return nil
}

func compositionBatch(trainID string, vehicleIDs []string) *pgx.Batch {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM train_vehicle WHERE train_id = $1`, trainID)
	for pos, vid := range vehicleIDs {
		batch.Queue(`INSERT INTO train_vehicle (train_id, position, vehicle_id) VALUES ($1, $2, $3)`,
			trainID, pos, vid)
	}
	return batch
}

// execBatch sends a batch and surfaces the first failing statement
func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return results.Close()
}

func (s *PostgresStore) UpsertTrack(ctx context.Context, t models.Track) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO track (id, name, from_station_id, to_station_id, length_km, gauge,
			max_speed_kmh, track_condition, electrified, bidirectional)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			from_station_id = EXCLUDED.from_station_id,
			to_station_id = EXCLUDED.to_station_id,
			length_km = EXCLUDED.length_km,
			gauge = EXCLUDED.gauge,
			max_speed_kmh = EXCLUDED.max_speed_kmh,
			track_condition = EXCLUDED.track_condition,
			electrified = EXCLUDED.electrified,
			bidirectional = EXCLUDED.bidirectional
	`, t.ID, t.Name, t.FromStationID, t.ToStationID, t.LengthKm, t.Gauge,
		t.MaxSpeedKmh, string(t.Condition), t.Electrified, t.Bidirectional)
	if err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertStation(ctx context.Context, st models.Station) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO station (id, name, lat, lon, station_type, platform_count, platform_classes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			station_type = EXCLUDED.station_type,
			platform_count = EXCLUDED.platform_count,
			platform_classes = EXCLUDED.platform_classes
	`, st.ID, st.Name, st.Lat, st.Lon, st.StationType, st.PlatformCount, encodeClasses(st.PlatformClasses))
	if err != nil {
		return fmt.Errorf("failed to upsert station %s: %w", st.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertVehicle(ctx context.Context, v models.Vehicle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vehicle (id, name, kind, weight_tonnes, capacity, max_speed_kmh, brake_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			weight_tonnes = EXCLUDED.weight_tonnes,
			capacity = EXCLUDED.capacity,
			max_speed_kmh = EXCLUDED.max_speed_kmh,
			brake_type = EXCLUDED.brake_type
	`, v.ID, v.Name, string(v.Kind), v.WeightTonnes, v.Capacity, v.MaxSpeedKmh, string(v.BrakeType))
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle %s: %w", v.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertRoute(ctx context.Context, r models.Route) error {
	waypoints, err := encodeWaypoints(r.Waypoints)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO route (id, name, waypoints) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, waypoints = EXCLUDED.waypoints
	`, r.ID, r.Name, waypoints)
	if err != nil {
		return fmt.Errorf("failed to upsert route %s: %w", r.ID, err)
	}
	return nil
}

// UpsertTrain writes the train record and its composition
func (s *PostgresStore) UpsertTrain(ctx context.Context, t models.Train) error {
	runtime, err := encodeRuntime(&t)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO train (id, name, route_id, scheduled_departure_ns, status, delay_seconds, runtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			route_id = EXCLUDED.route_id,
			scheduled_departure_ns = EXCLUDED.scheduled_departure_ns,
			status = EXCLUDED.status,
			delay_seconds = EXCLUDED.delay_seconds,
			runtime = EXCLUDED.runtime
	`, t.ID, t.Name, t.RouteID, toNanos(t.ScheduledDeparture), string(t.Runtime.Status),
		int64(t.Runtime.Delay/time.Second), runtime)
	if err != nil {
		return fmt.Errorf("failed to upsert train %s: %w", t.ID, err)
	}
	if err := execBatch(ctx, tx, compositionBatch(t.ID, t.Vehicles)); err != nil {
		return fmt.Errorf("failed to save composition of train %s: %w", t.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit train %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteTrain(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM train WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete train %s: %w", id, err)
	}
	return nil
}
