package booking

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"bustrack/internal/shared/logger"
	"bustrack/internal/transit"
)

type memRepo struct {
	nextID   int64
	byID     map[int64]Booking
	byRef    map[string]Booking
	failNext bool
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[int64]Booking), byRef: make(map[string]Booking)}
}

func (r *memRepo) Insert(_ context.Context, b *Booking) error {
	if r.failNext {
		r.failNext = false
		return errors.New("storage down")
	}
	r.nextID++
	b.ID = r.nextID
	r.byID[b.ID] = *b
	r.byRef[b.Reference] = *b
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id int64) (Booking, error) {
	b, ok := r.byID[id]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	return b, nil
}

func (r *memRepo) FindByReference(_ context.Context, ref string) (Booking, error) {
	b, ok := r.byRef[ref]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	return b, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id int64, status string) error {
	b, ok := r.byID[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.Status = status
	r.byID[id] = b
	r.byRef[b.Reference] = b
	return nil
}

type fakeTrips struct {
	trip  transit.Trip
	route transit.Route
	stops []transit.RouteStop
	seats transit.TripSeats
}

func (f *fakeTrips) GetTrip(_ context.Context, tripID int64) (transit.Trip, error) {
	if tripID != f.trip.ID {
		return transit.Trip{}, transit.ErrTripNotFound
	}
	return f.trip, nil
}

func (f *fakeTrips) GetRoute(_ context.Context, _ int64) (transit.Route, error) {
	return f.route, nil
}

func (f *fakeTrips) GetRouteStops(_ context.Context, _ int64) ([]transit.RouteStop, error) {
	return f.stops, nil
}

func (f *fakeTrips) GetTripSeats(_ context.Context, _ int64, _ int) (transit.TripSeats, error) {
	return f.seats, nil
}

type countingNotifier struct {
	created   atomic.Int64
	cancelled atomic.Int64
}

func (n *countingNotifier) BookingCreated(Booking, int64)   { n.created.Add(1) }
func (n *countingNotifier) BookingCancelled(Booking, int64) { n.cancelled.Add(1) }

func routeStop(id int64, seq int) transit.RouteStop {
	return transit.RouteStop{Stop: transit.Stop{ID: id}, Sequence: seq}
}

func newFixture() (*Service, *memRepo, *fakeTrips, *countingNotifier) {
	repo := newMemRepo()
	trips := &fakeTrips{
		trip:  transit.Trip{ID: 9, RouteID: 7, BusID: 3, DriverID: 5, Status: "active"},
		route: transit.Route{ID: 7, BaseFare: 50, FarePerKm: 10, DistanceKm: 20},
		stops: []transit.RouteStop{
			routeStop(101, 1), routeStop(102, 2), routeStop(103, 3),
			routeStop(104, 4), routeStop(105, 5),
		},
		seats: transit.TripSeats{TotalSeats: 10},
	}
	notifier := &countingNotifier{}
	svc := NewService(repo, trips, NewCapacityLedger(), notifier, logger.NewLogger("test"), 45)
	return svc, repo, trips, notifier
}

func TestCreateBookingComputesFareAndReservesSeats(t *testing.T) {
	svc, _, _, notifier := newFixture()

	b, err := svc.Create(context.Background(), CreateRequest{
		TripID:        9,
		PickupStopID:  101,
		DropoffStopID: 103,
		PassengerName: "Nimal",
		Passengers:    2,
	})
	if err != nil {
		t.Fatal(err)
	}

	if b.FareAmount != 300 {
		t.Errorf("fare = %v, want 300", b.FareAmount)
	}
	if !strings.HasPrefix(b.Reference, "BK") {
		t.Errorf("reference = %q, want BK prefix", b.Reference)
	}
	if b.Status != StatusConfirmed {
		t.Errorf("status = %q, want CONFIRMED", b.Status)
	}

	seats, err := svc.SeatsFor(context.Background(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if seats.SeatsBooked != 2 {
		t.Errorf("booked = %d, want 2", seats.SeatsBooked)
	}
	if n := notifier.created.Load(); n != 1 {
		t.Errorf("driver notified %d times, want 1", n)
	}
}

func TestCreateBookingRejectsBadStopOrder(t *testing.T) {
	svc, _, _, _ := newFixture()

	cases := []struct {
		name            string
		pickup, dropoff int64
	}{
		{"reversed", 103, 101},
		{"same stop", 102, 102},
		{"unknown pickup", 999, 103},
		{"unknown dropoff", 101, 999},
	}
	for _, tc := range cases {
		_, err := svc.Create(context.Background(), CreateRequest{
			TripID: 9, PickupStopID: tc.pickup, DropoffStopID: tc.dropoff,
			PassengerName: "x", Passengers: 1,
		})
		if !errors.Is(err, ErrInvalidStops) {
			t.Errorf("%s: err = %v, want ErrInvalidStops", tc.name, err)
		}
	}

	seats, _ := svc.SeatsFor(context.Background(), 9)
	if seats.SeatsBooked != 0 {
		t.Errorf("booked = %d after rejected bookings, want 0", seats.SeatsBooked)
	}
}

func TestCreateBookingCapacityExhaustion(t *testing.T) {
	svc, _, _, _ := newFixture()
	ctx := context.Background()

	req := CreateRequest{TripID: 9, PickupStopID: 101, DropoffStopID: 105, PassengerName: "x", Passengers: 4}
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatal(err)
	}
	// 8 of 10 booked; 4 more must not fit.
	if _, err := svc.Create(ctx, req); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	seats, _ := svc.SeatsFor(ctx, 9)
	if seats.SeatsBooked != 8 {
		t.Errorf("booked = %d, want 8", seats.SeatsBooked)
	}
}

func TestCreateBookingReleasesSeatsOnStorageFailure(t *testing.T) {
	svc, repo, _, _ := newFixture()
	repo.failNext = true

	_, err := svc.Create(context.Background(), CreateRequest{
		TripID: 9, PickupStopID: 101, DropoffStopID: 103, PassengerName: "x", Passengers: 3,
	})
	if err == nil {
		t.Fatal("expected storage error")
	}

	seats, _ := svc.SeatsFor(context.Background(), 9)
	if seats.SeatsBooked != 0 {
		t.Errorf("booked = %d after failed insert, want 0", seats.SeatsBooked)
	}
}

func TestCancelFreesSeatsOnce(t *testing.T) {
	svc, _, _, notifier := newFixture()
	ctx := context.Background()

	b, err := svc.Create(ctx, CreateRequest{
		TripID: 9, PickupStopID: 101, DropoffStopID: 103, PassengerName: "x", Passengers: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := svc.Cancel(ctx, KeyByReference(b.Reference))
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %q, want CANCELLED", cancelled.Status)
	}

	seats, _ := svc.SeatsFor(ctx, 9)
	if seats.SeatsBooked != 0 {
		t.Errorf("booked = %d after cancel, want 0", seats.SeatsBooked)
	}

	if _, err := svc.Cancel(ctx, KeyByID(b.ID)); !errors.Is(err, ErrAlreadyCancelled) {
		t.Errorf("second cancel err = %v, want ErrAlreadyCancelled", err)
	}
	if n := notifier.cancelled.Load(); n != 1 {
		t.Errorf("driver notified of %d cancellations, want 1", n)
	}
}

func TestGetByIDAndReference(t *testing.T) {
	svc, _, _, _ := newFixture()
	ctx := context.Background()

	b, err := svc.Create(ctx, CreateRequest{
		TripID: 9, PickupStopID: 102, DropoffStopID: 104, PassengerName: "x", Passengers: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	byID, err := svc.Get(ctx, KeyByID(b.ID))
	if err != nil || byID.Reference != b.Reference {
		t.Errorf("get by id = (%+v, %v)", byID, err)
	}
	byRef, err := svc.Get(ctx, KeyByReference(b.Reference))
	if err != nil || byRef.ID != b.ID {
		t.Errorf("get by reference = (%+v, %v)", byRef, err)
	}
	if _, err := svc.Get(ctx, KeyByReference("BKMISSING")); !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("missing booking err = %v, want ErrBookingNotFound", err)
	}
}
