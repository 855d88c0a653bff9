package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `
	booking_id, booking_reference, passenger_name, COALESCE(passenger_phone, ''),
	COALESCE(route_id, 0), COALESCE(bus_id, 0), trip_id,
	pickup_stop_id, dropoff_stop_id, travel_date,
	number_of_passengers, fare_amount, booking_status, payment_status, created_at
`

func (r *PgRepository) Insert(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings
			(booking_reference, passenger_name, passenger_phone, route_id, bus_id, trip_id,
			 pickup_stop_id, dropoff_stop_id, travel_date, number_of_passengers,
			 fare_amount, booking_status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING booking_id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		b.Reference,
		b.PassengerName,
		b.PassengerPhone,
		b.RouteID,
		b.BusID,
		b.TripID,
		b.PickupStopID,
		b.DropoffStopID,
		b.TravelDate,
		b.Passengers,
		b.FareAmount,
		b.Status,
		b.PaymentStatus,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PgRepository) FindByID(ctx context.Context, id int64) (Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgRepository) FindByReference(ctx context.Context, ref string) (Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_reference = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, ref))
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET booking_status = $2, updated_at = NOW()
		WHERE booking_id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PgRepository) scanOne(row pgx.Row) (Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.Reference,
		&b.PassengerName,
		&b.PassengerPhone,
		&b.RouteID,
		&b.BusID,
		&b.TripID,
		&b.PickupStopID,
		&b.DropoffStopID,
		&b.TravelDate,
		&b.Passengers,
		&b.FareAmount,
		&b.Status,
		&b.PaymentStatus,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrBookingNotFound
		}
		return Booking{}, fmt.Errorf("scan booking: %w", err)
	}
	return b, nil
}
