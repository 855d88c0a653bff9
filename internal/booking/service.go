// Package booking handles seat reservations against live trips: fare
// quoting, capacity accounting, and the booking lifecycle.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bustrack/internal/shared/logger"
	"bustrack/internal/transit"

	"github.com/google/uuid"
)

// Booking is one confirmed (or cancelled) seat reservation.
type Booking struct {
	ID             int64     `json:"booking_id"`
	Reference      string    `json:"booking_reference"`
	PassengerName  string    `json:"passenger_name"`
	PassengerPhone string    `json:"passenger_phone,omitempty"`
	RouteID        int64     `json:"route_id"`
	BusID          int64     `json:"bus_id"`
	TripID         int64     `json:"trip_id"`
	PickupStopID   int64     `json:"pickup_stop_id"`
	DropoffStopID  int64     `json:"dropoff_stop_id"`
	TravelDate     time.Time `json:"travel_date"`
	Passengers     int       `json:"number_of_passengers"`
	FareAmount     float64   `json:"fare_amount"`
	Status         string    `json:"booking_status"`
	PaymentStatus  string    `json:"payment_status"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
)

// CreateRequest carries the validated input for a new booking.
type CreateRequest struct {
	TripID         int64
	PickupStopID   int64
	DropoffStopID  int64
	PassengerName  string
	PassengerPhone string
	Passengers     int
}

// Repository persists bookings.
type Repository interface {
	Insert(ctx context.Context, b *Booking) error
	FindByID(ctx context.Context, id int64) (Booking, error)
	FindByReference(ctx context.Context, ref string) (Booking, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// TripDirectory is the slice of the transit store the service reads.
type TripDirectory interface {
	GetTrip(ctx context.Context, tripID int64) (transit.Trip, error)
	GetRoute(ctx context.Context, routeID int64) (transit.Route, error)
	GetRouteStops(ctx context.Context, routeID int64) ([]transit.RouteStop, error)
	GetTripSeats(ctx context.Context, tripID int64, defaultCapacity int) (transit.TripSeats, error)
}

// Notifier pushes booking lifecycle events to the trip's driver.
type Notifier interface {
	BookingCreated(b Booking, driverID int64)
	BookingCancelled(b Booking, driverID int64)
}

type Service struct {
	repo            Repository
	trips           TripDirectory
	ledger          *CapacityLedger
	notifier        Notifier
	log             *logger.Logger
	defaultCapacity int
}

func NewService(repo Repository, trips TripDirectory, ledger *CapacityLedger, notifier Notifier, log *logger.Logger, defaultCapacity int) *Service {
	if defaultCapacity <= 0 {
		defaultCapacity = 45
	}
	return &Service{
		repo:            repo,
		trips:           trips,
		ledger:          ledger,
		notifier:        notifier,
		log:             log,
		defaultCapacity: defaultCapacity,
	}
}

// Create reserves seats and persists the booking. Seats are taken from
// the ledger first and given back if the write fails, so the counter
// never leaks on a storage error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Booking, error) {
	if req.Passengers < 1 {
		return Booking{}, ErrInvalidPassengers
	}

	trip, err := s.trips.GetTrip(ctx, req.TripID)
	if err != nil {
		return Booking{}, err
	}
	route, err := s.trips.GetRoute(ctx, trip.RouteID)
	if err != nil {
		return Booking{}, err
	}
	stops, err := s.trips.GetRouteStops(ctx, trip.RouteID)
	if err != nil {
		return Booking{}, err
	}

	pickupSeq, dropoffSeq := -1, -1
	for _, st := range stops {
		if st.ID == req.PickupStopID {
			pickupSeq = st.Sequence
		}
		if st.ID == req.DropoffStopID {
			dropoffSeq = st.Sequence
		}
	}
	if pickupSeq < 0 || dropoffSeq < 0 || pickupSeq >= dropoffSeq {
		return Booking{}, ErrInvalidStops
	}

	if err := s.ensureSeeded(ctx, req.TripID); err != nil {
		return Booking{}, err
	}
	if err := s.ledger.Reserve(req.TripID, req.Passengers); err != nil {
		return Booking{}, err
	}

	quote := FareQuote(route, len(stops), pickupSeq, dropoffSeq, req.Passengers)

	b := Booking{
		Reference:      newReference(),
		PassengerName:  req.PassengerName,
		PassengerPhone: req.PassengerPhone,
		RouteID:        trip.RouteID,
		BusID:          trip.BusID,
		TripID:         trip.ID,
		PickupStopID:   req.PickupStopID,
		DropoffStopID:  req.DropoffStopID,
		TravelDate:     time.Now().UTC(),
		Passengers:     req.Passengers,
		FareAmount:     quote.TotalFare,
		Status:         StatusConfirmed,
		PaymentStatus:  "PENDING",
	}

	if err := s.repo.Insert(ctx, &b); err != nil {
		s.ledger.Release(req.TripID, req.Passengers)
		return Booking{}, fmt.Errorf("persist booking: %w", err)
	}

	s.log.Info(logger.Entry{
		Action:  "booking_created",
		Message: b.Reference,
		TripID:  fmt.Sprint(b.TripID),
		Additional: map[string]any{
			"passengers": b.Passengers,
			"fare":       b.FareAmount,
		},
	})

	if s.notifier != nil && trip.DriverID != 0 {
		s.notifier.BookingCreated(b, trip.DriverID)
	}
	return b, nil
}

// Cancel frees the booking's seats and marks it cancelled. Cancelling
// twice is an error; the seats were already returned.
func (s *Service) Cancel(ctx context.Context, key BookingKey) (Booking, error) {
	b, err := s.Get(ctx, key)
	if err != nil {
		return Booking{}, err
	}
	if b.Status == StatusCancelled {
		return Booking{}, ErrAlreadyCancelled
	}

	if err := s.repo.UpdateStatus(ctx, b.ID, StatusCancelled); err != nil {
		return Booking{}, fmt.Errorf("cancel booking: %w", err)
	}
	b.Status = StatusCancelled

	s.ledger.Release(b.TripID, b.Passengers)

	s.log.Info(logger.Entry{
		Action:  "booking_cancelled",
		Message: b.Reference,
		TripID:  fmt.Sprint(b.TripID),
	})

	if s.notifier != nil {
		if trip, err := s.trips.GetTrip(ctx, b.TripID); err == nil && trip.DriverID != 0 {
			s.notifier.BookingCancelled(b, trip.DriverID)
		}
	}
	return b, nil
}

// Get loads a booking by id or reference.
func (s *Service) Get(ctx context.Context, key BookingKey) (Booking, error) {
	if key.ByReference() {
		return s.repo.FindByReference(ctx, key.Reference)
	}
	return s.repo.FindByID(ctx, key.ID)
}

// SeatsFor reports live availability for a trip, seeding the ledger from
// storage on first sight.
func (s *Service) SeatsFor(ctx context.Context, tripID int64) (transit.TripSeats, error) {
	if err := s.ensureSeeded(ctx, tripID); err != nil {
		return transit.TripSeats{}, err
	}
	seats, _ := s.ledger.Seats(tripID)
	return seats, nil
}

// Quote prices a journey without reserving anything.
func (s *Service) Quote(ctx context.Context, tripID, pickupStopID, dropoffStopID int64, passengers int) (Quote, error) {
	if passengers < 1 {
		return Quote{}, ErrInvalidPassengers
	}
	trip, err := s.trips.GetTrip(ctx, tripID)
	if err != nil {
		return Quote{}, err
	}
	route, err := s.trips.GetRoute(ctx, trip.RouteID)
	if err != nil {
		return Quote{}, err
	}
	stops, err := s.trips.GetRouteStops(ctx, trip.RouteID)
	if err != nil {
		return Quote{}, err
	}

	pickupSeq, dropoffSeq := -1, -1
	for _, st := range stops {
		if st.ID == pickupStopID {
			pickupSeq = st.Sequence
		}
		if st.ID == dropoffStopID {
			dropoffSeq = st.Sequence
		}
	}
	if pickupSeq < 0 || dropoffSeq < 0 || pickupSeq >= dropoffSeq {
		return Quote{}, ErrInvalidStops
	}

	return FareQuote(route, len(stops), pickupSeq, dropoffSeq, passengers), nil
}

func (s *Service) ensureSeeded(ctx context.Context, tripID int64) error {
	if _, ok := s.ledger.Seats(tripID); ok {
		return nil
	}
	seats, err := s.trips.GetTripSeats(ctx, tripID, s.defaultCapacity)
	if err != nil {
		return err
	}
	s.ledger.Seed(tripID, seats)
	return nil
}

func newReference() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "BK" + strings.ToUpper(raw[:10])
}
