// Package pgstore is the Postgres-backed adapter for the transit network
// and the tracking persistence hooks.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"bustrack/internal/tracking"
	"bustrack/internal/transit"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes the transit schema. Storage failures wrap
// transit.ErrUnavailable; missing rows map to the per-entity sentinels.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetStop(ctx context.Context, stopID int64) (transit.Stop, error) {
	query := `
		SELECT stop_id, stop_name, latitude, longitude
		FROM stops
		WHERE stop_id = $1
	`

	var st transit.Stop
	err := s.pool.QueryRow(ctx, query, stopID).Scan(
		&st.ID,
		&st.Name,
		&st.Position.Lat,
		&st.Position.Lon,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transit.Stop{}, transit.ErrStopNotFound
		}
		return transit.Stop{}, fmt.Errorf("query stop by id: %w: %w", transit.ErrUnavailable, err)
	}

	return st, nil
}

func (s *Store) GetRoute(ctx context.Context, routeID int64) (transit.Route, error) {
	query := `
		SELECT route_id, route_number, route_name, base_fare, fare_per_km, distance_km
		FROM routes
		WHERE route_id = $1
	`

	var rt transit.Route
	err := s.pool.QueryRow(ctx, query, routeID).Scan(
		&rt.ID,
		&rt.Number,
		&rt.Name,
		&rt.BaseFare,
		&rt.FarePerKm,
		&rt.DistanceKm,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transit.Route{}, transit.ErrRouteNotFound
		}
		return transit.Route{}, fmt.Errorf("query route by id: %w: %w", transit.ErrUnavailable, err)
	}

	return rt, nil
}

func (s *Store) GetRouteStops(ctx context.Context, routeID int64) ([]transit.RouteStop, error) {
	query := `
		SELECT st.stop_id, st.stop_name, st.latitude, st.longitude, rs.stop_sequence
		FROM route_stops rs
		JOIN stops st ON st.stop_id = rs.stop_id
		WHERE rs.route_id = $1
		ORDER BY rs.stop_sequence
	`

	rows, err := s.pool.Query(ctx, query, routeID)
	if err != nil {
		return nil, fmt.Errorf("query route stops: %w: %w", transit.ErrUnavailable, err)
	}
	defer rows.Close()

	var stops []transit.RouteStop
	for rows.Next() {
		var rs transit.RouteStop
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Position.Lat, &rs.Position.Lon, &rs.Sequence); err != nil {
			return nil, fmt.Errorf("scan route stop: %w: %w", transit.ErrUnavailable, err)
		}
		stops = append(stops, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route stops: %w: %w", transit.ErrUnavailable, err)
	}

	return stops, nil
}

// ActiveVehiclesServingStop lists buses that are tracking, on an active
// trip, and whose route passes through the stop.
func (s *Store) ActiveVehiclesServingStop(ctx context.Context, stopID int64) ([]transit.ActiveVehicle, error) {
	query := `
		SELECT b.bus_id, t.trip_id, t.route_id
		FROM buses b
		JOIN trips t ON t.bus_id = b.bus_id AND t.status = 'active'
		JOIN route_stops rs ON rs.route_id = t.route_id
		WHERE rs.stop_id = $1 AND b.is_active AND b.is_tracking
	`

	rows, err := s.pool.Query(ctx, query, stopID)
	if err != nil {
		return nil, fmt.Errorf("query active vehicles: %w: %w", transit.ErrUnavailable, err)
	}
	defer rows.Close()

	var vehicles []transit.ActiveVehicle
	for rows.Next() {
		var v transit.ActiveVehicle
		if err := rows.Scan(&v.BusID, &v.TripID, &v.RouteID); err != nil {
			return nil, fmt.Errorf("scan active vehicle: %w: %w", transit.ErrUnavailable, err)
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active vehicles: %w: %w", transit.ErrUnavailable, err)
	}

	return vehicles, nil
}

func (s *Store) GetBus(ctx context.Context, busID int64) (transit.Bus, error) {
	query := `
		SELECT bus_id, bus_number, bus_type, capacity, COALESCE(route_id, 0), is_active, is_tracking
		FROM buses
		WHERE bus_id = $1
	`

	var b transit.Bus
	err := s.pool.QueryRow(ctx, query, busID).Scan(
		&b.ID,
		&b.Number,
		&b.Type,
		&b.Capacity,
		&b.RouteID,
		&b.IsActive,
		&b.IsTracking,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transit.Bus{}, transit.ErrBusNotFound
		}
		return transit.Bus{}, fmt.Errorf("query bus by id: %w: %w", transit.ErrUnavailable, err)
	}

	return b, nil
}

func (s *Store) GetTrip(ctx context.Context, tripID int64) (transit.Trip, error) {
	query := `
		SELECT trip_id, route_id, bus_id, COALESCE(driver_id, 0), status, start_time, end_time
		FROM trips
		WHERE trip_id = $1
	`

	var t transit.Trip
	err := s.pool.QueryRow(ctx, query, tripID).Scan(
		&t.ID,
		&t.RouteID,
		&t.BusID,
		&t.DriverID,
		&t.Status,
		&t.StartTime,
		&t.EndTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transit.Trip{}, transit.ErrTripNotFound
		}
		return transit.Trip{}, fmt.Errorf("query trip by id: %w: %w", transit.ErrUnavailable, err)
	}

	return t, nil
}

// GetTripSeats reports the trip's total capacity and booked seat count.
// When the bus has no usable capacity row the total falls back to the
// fleet default so bookings stay possible.
func (s *Store) GetTripSeats(ctx context.Context, tripID int64, defaultCapacity int) (transit.TripSeats, error) {
	query := `
		SELECT COALESCE(NULLIF(b.capacity, 0), $2),
		       COALESCE(SUM(bk.number_of_passengers) FILTER (WHERE bk.booking_status = 'CONFIRMED'), 0)
		FROM trips t
		JOIN buses b ON b.bus_id = t.bus_id
		LEFT JOIN bookings bk ON bk.trip_id = t.trip_id
		WHERE t.trip_id = $1
		GROUP BY b.capacity
	`

	var seats transit.TripSeats
	err := s.pool.QueryRow(ctx, query, tripID, defaultCapacity).Scan(
		&seats.TotalSeats,
		&seats.SeatsBooked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transit.TripSeats{}, transit.ErrTripNotFound
		}
		return transit.TripSeats{}, fmt.Errorf("query trip seats: %w: %w", transit.ErrUnavailable, err)
	}

	return seats, nil
}

func (s *Store) GetDriverByLicense(ctx context.Context, licenseNumber string) (transit.Driver, error) {
	query := `
		SELECT driver_id, name, license_number, COALESCE(phone, ''), pin_hash, COALESCE(bus_id, 0), status
		FROM drivers
		WHERE license_number = $1
	`

	var d transit.Driver
	err := s.pool.QueryRow(ctx, query, licenseNumber).Scan(
		&d.ID,
		&d.Name,
		&d.LicenseNumber,
		&d.Phone,
		&d.PINHash,
		&d.BusID,
		&d.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transit.Driver{}, transit.ErrDriverNotFound
		}
		return transit.Driver{}, fmt.Errorf("query driver by license: %w: %w", transit.ErrUnavailable, err)
	}

	return d, nil
}

// SetBusTracking flips the bus's live-tracking flag.
func (s *Store) SetBusTracking(ctx context.Context, busID int64, tracking bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE buses SET is_tracking = $2 WHERE bus_id = $1`, busID, tracking)
	if err != nil {
		return fmt.Errorf("update bus tracking flag: %w: %w", transit.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return transit.ErrBusNotFound
	}
	return nil
}

// MarkStopCompleted records the bus passing a stop on an active trip.
func (s *Store) MarkStopCompleted(ctx context.Context, tripID, stopID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trip_stops
		SET is_completed = true, actual_arrival = NOW()
		WHERE trip_id = $1 AND stop_id = $2
	`, tripID, stopID)
	if err != nil {
		return fmt.Errorf("mark stop completed: %w: %w", transit.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return transit.ErrStopNotFound
	}
	return nil
}

// PersistSample appends one location sample to the audit table.
func (s *Store) PersistSample(ctx context.Context, sample tracking.Sample) error {
	var heading *int
	if sample.HasHeading {
		h := sample.Heading
		heading = &h
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bus_locations
			(bus_id, trip_id, route_id, latitude, longitude, speed_kmh, heading, accuracy_m, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		sample.VehicleID,
		sample.TripID,
		sample.RouteID,
		sample.Position.Lat,
		sample.Position.Lon,
		sample.SpeedKmh,
		heading,
		sample.AccuracyM,
		sample.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bus location: %w: %w", transit.ErrUnavailable, err)
	}
	return nil
}

// LocationHistory reads persisted samples for a bus, newest first.
func (s *Store) LocationHistory(ctx context.Context, busID int64, limit int) ([]tracking.Sample, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT bus_id, trip_id, route_id, latitude, longitude, speed_kmh, heading, accuracy_m, captured_at
		FROM bus_locations
		WHERE bus_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, busID, limit)
	if err != nil {
		return nil, fmt.Errorf("query location history: %w: %w", transit.ErrUnavailable, err)
	}
	defer rows.Close()

	var samples []tracking.Sample
	for rows.Next() {
		var sm tracking.Sample
		var heading *int
		if err := rows.Scan(
			&sm.VehicleID,
			&sm.TripID,
			&sm.RouteID,
			&sm.Position.Lat,
			&sm.Position.Lon,
			&sm.SpeedKmh,
			&heading,
			&sm.AccuracyM,
			&sm.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan location sample: %w: %w", transit.ErrUnavailable, err)
		}
		if heading != nil {
			sm.Heading = *heading
			sm.HasHeading = true
		}
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate location history: %w: %w", transit.ErrUnavailable, err)
	}

	return samples, nil
}
