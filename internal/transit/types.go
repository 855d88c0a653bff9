// Package transit defines the static network domain: routes, stops, trips,
// buses, and drivers. The live tracking core consumes these through narrow
// read interfaces; persistence lives in the pgstore subpackage.
package transit

import (
	"errors"
	"time"

	"bustrack/internal/geo"
)

var (
	ErrStopNotFound   = errors.New("stop not found")
	ErrRouteNotFound  = errors.New("route not found")
	ErrTripNotFound   = errors.New("active trip not found")
	ErrBusNotFound    = errors.New("bus not found")
	ErrDriverNotFound = errors.New("driver not found")

	// ErrUnavailable wraps storage-layer failures: the read could not be
	// answered, as opposed to the row not existing.
	ErrUnavailable = errors.New("upstream store unavailable")
)

type Stop struct {
	ID       int64
	Name     string
	Position geo.Point
}

// RouteStop is a stop in the context of one route's ordered stop list.
type RouteStop struct {
	Stop
	Sequence int
}

type Route struct {
	ID         int64
	Number     string
	Name       string
	BaseFare   float64
	FarePerKm  float64
	DistanceKm float64
}

type Bus struct {
	ID         int64
	Number     string
	Type       string
	Capacity   int
	RouteID    int64
	IsActive   bool
	IsTracking bool
}

type Driver struct {
	ID            int64
	Name          string
	LicenseNumber string
	Phone         string
	PINHash       string
	BusID         int64
	Status        string
}

type Trip struct {
	ID        int64
	RouteID   int64
	BusID     int64
	DriverID  int64
	Status    string
	StartTime time.Time
	EndTime   *time.Time
}

// ActiveVehicle is a bus currently tracking on a trip, as needed by
// arrival queries.
type ActiveVehicle struct {
	BusID   int64
	TripID  int64
	RouteID int64
}

// TripSeats is the persisted seat snapshot used to seed the capacity
// ledger the first time a trip is touched.
type TripSeats struct {
	TotalSeats  int
	SeatsBooked int
}
