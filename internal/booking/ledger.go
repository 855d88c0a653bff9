package booking

import (
	"errors"
	"sync"

	"bustrack/internal/transit"
)

var (
	// ErrCapacityExceeded rejects a reservation that would overbook the
	// trip. The ledger is left unchanged.
	ErrCapacityExceeded = errors.New("not enough seats available")

	// ErrTripNotSeeded means the trip was never loaded into the ledger.
	ErrTripNotSeeded = errors.New("trip capacity not loaded")

	ErrBookingNotFound   = errors.New("booking not found")
	ErrInvalidStops      = errors.New("pickup stop must precede dropoff stop on the route")
	ErrAlreadyCancelled  = errors.New("booking already cancelled")
	ErrInvalidPassengers = errors.New("passenger count must be at least 1")
)

type tripSeats struct {
	mu     sync.Mutex
	total  int
	booked int
}

// CapacityLedger is the authoritative in-process seat counter. A
// reservation either fully succeeds or leaves the count untouched;
// releases never drive the count below zero.
type CapacityLedger struct {
	mu    sync.RWMutex
	trips map[int64]*tripSeats
}

func NewCapacityLedger() *CapacityLedger {
	return &CapacityLedger{trips: make(map[int64]*tripSeats)}
}

// Seed installs the trip's capacity snapshot if it is not already
// tracked. An existing entry wins: the ledger has seen reservations the
// snapshot may not reflect yet.
func (l *CapacityLedger) Seed(tripID int64, seats transit.TripSeats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.trips[tripID]; ok {
		return
	}
	l.trips[tripID] = &tripSeats{total: seats.TotalSeats, booked: seats.SeatsBooked}
}

// SetCapacity replaces the trip's total. Booked seats are preserved even
// when they now exceed the total; the overbooked state just blocks new
// reservations until enough seats free up.
func (l *CapacityLedger) SetCapacity(tripID int64, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trips[tripID]
	if !ok {
		l.trips[tripID] = &tripSeats{total: total}
		return
	}
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

func (l *CapacityLedger) trip(tripID int64) *tripSeats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trips[tripID]
}

// Reserve books n seats atomically.
func (l *CapacityLedger) Reserve(tripID int64, n int) error {
	if n < 1 {
		return ErrInvalidPassengers
	}
	t := l.trip(tripID)
	if t == nil {
		return ErrTripNotSeeded
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.booked+n > t.total {
		return ErrCapacityExceeded
	}
	t.booked += n
	return nil
}

// Release frees n seats, clamping at zero.
func (l *CapacityLedger) Release(tripID int64, n int) {
	if n < 1 {
		return
	}
	t := l.trip(tripID)
	if t == nil {
		return
	}

	t.mu.Lock()
	t.booked -= n
	if t.booked < 0 {
		t.booked = 0
	}
	t.mu.Unlock()
}

// Seats reports the trip's current counts.
func (l *CapacityLedger) Seats(tripID int64) (transit.TripSeats, bool) {
	t := l.trip(tripID)
	if t == nil {
		return transit.TripSeats{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return transit.TripSeats{TotalSeats: t.total, SeatsBooked: t.booked}, true
}
