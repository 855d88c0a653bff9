package booking

import (
	"errors"
	"sync"
	"testing"

	"bustrack/internal/transit"
)

func TestReserveRejectsWithoutChangeWhenFull(t *testing.T) {
	l := NewCapacityLedger()
	l.Seed(1, transit.TripSeats{TotalSeats: 10, SeatsBooked: 8})

	if err := l.Reserve(1, 5); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	seats, _ := l.Seats(1)
	if seats.SeatsBooked != 8 {
		t.Errorf("booked = %d after failed reserve, want 8 unchanged", seats.SeatsBooked)
	}

	if err := l.Reserve(1, 2); err != nil {
		t.Fatalf("exact-fit reserve failed: %v", err)
	}
	seats, _ = l.Seats(1)
	if seats.SeatsBooked != 10 {
		t.Errorf("booked = %d, want 10", seats.SeatsBooked)
	}
}

func TestReserveValidation(t *testing.T) {
	l := NewCapacityLedger()
	l.Seed(1, transit.TripSeats{TotalSeats: 10})

	if err := l.Reserve(1, 0); !errors.Is(err, ErrInvalidPassengers) {
		t.Errorf("n=0 err = %v, want ErrInvalidPassengers", err)
	}
	if err := l.Reserve(99, 1); !errors.Is(err, ErrTripNotSeeded) {
		t.Errorf("unknown trip err = %v, want ErrTripNotSeeded", err)
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	l := NewCapacityLedger()
	l.Seed(1, transit.TripSeats{TotalSeats: 10, SeatsBooked: 3})

	l.Release(1, 5)
	seats, _ := l.Seats(1)
	if seats.SeatsBooked != 0 {
		t.Errorf("booked = %d after over-release, want 0", seats.SeatsBooked)
	}

	// Unknown trips are a no-op.
	l.Release(42, 3)
}

func TestSeedDoesNotOverwriteLiveCounts(t *testing.T) {
	l := NewCapacityLedger()
	l.Seed(1, transit.TripSeats{TotalSeats: 10})
	if err := l.Reserve(1, 4); err != nil {
		t.Fatal(err)
	}

	// A later snapshot from storage must not clobber the live count.
	l.Seed(1, transit.TripSeats{TotalSeats: 10, SeatsBooked: 0})

	seats, _ := l.Seats(1)
	if seats.SeatsBooked != 4 {
		t.Errorf("booked = %d after re-seed, want 4", seats.SeatsBooked)
	}
}

func TestSetCapacityPreservesOverbookedState(t *testing.T) {
	l := NewCapacityLedger()
	l.Seed(1, transit.TripSeats{TotalSeats: 50, SeatsBooked: 40})

	l.SetCapacity(1, 30)

	seats, _ := l.Seats(1)
	if seats.TotalSeats != 30 || seats.SeatsBooked != 40 {
		t.Errorf("seats = %+v, want total 30 booked 40", seats)
	}
	// Overbooked: no new reservations until seats free up.
	if err := l.Reserve(1, 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("reserve on overbooked trip err = %v, want ErrCapacityExceeded", err)
	}
	l.Release(1, 15)
	if err := l.Reserve(1, 1); err != nil {
		t.Errorf("reserve after release failed: %v", err)
	}
}

func TestConcurrentReservationsNeverOverbook(t *testing.T) {
	l := NewCapacityLedger()
	const total = 40
	l.Seed(7, transit.TripSeats{TotalSeats: total})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(7, 1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != total {
		t.Errorf("granted = %d, want exactly %d", granted, total)
	}
	seats, _ := l.Seats(7)
	if seats.SeatsBooked != total {
		t.Errorf("booked = %d, want %d", seats.SeatsBooked, total)
	}
}

func TestConcurrentReserveReleaseInterleaving(t *testing.T) {
	l := NewCapacityLedger()
	l.Seed(7, transit.TripSeats{TotalSeats: 40})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := l.Reserve(7, 2); err == nil {
					l.Release(7, 2)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for {
		select {
		case <-done:
			seats, _ := l.Seats(7)
			if seats.SeatsBooked != 0 {
				t.Errorf("booked = %d after balanced interleaving, want 0", seats.SeatsBooked)
			}
			return
		default:
			seats, _ := l.Seats(7)
			if seats.SeatsBooked < 0 || seats.SeatsBooked > 40 {
				t.Fatalf("booked = %d outside [0, 40]", seats.SeatsBooked)
			}
		}
	}
}
