package tracking

import (
	"errors"
	"time"

	"bustrack/internal/geo"
)

var (
	// ErrInvalidCoordinates rejects a report with missing or non-finite
	// latitude/longitude. Raised before any state mutation.
	ErrInvalidCoordinates = errors.New("invalid or missing coordinates")

	// ErrVehicleNotTracked means the vehicle has never reported a position.
	ErrVehicleNotTracked = errors.New("vehicle has not reported a position")

	// ErrStopNotFound means the stop does not exist.
	ErrStopNotFound = errors.New("stop not found")

	// ErrNoRouteStops means the route has no stops (or does not exist).
	ErrNoRouteStops = errors.New("no stops found on route")

	// ErrNoActiveVehicles is the explicit empty result of an arrivals query.
	ErrNoActiveVehicles = errors.New("no active vehicles for this stop")
)

// Sample is one GPS report for a vehicle. Immutable once recorded.
type Sample struct {
	VehicleID int64
	TripID    int64
	RouteID   int64
	Position  geo.Point
	SpeedKmh  float64
	// Heading is degrees clockwise from north in [0, 360). Valid only
	// when HasHeading is set; a vehicle's first sample has no heading.
	Heading    int
	HasHeading bool
	AccuracyM  float64
	CapturedAt time.Time
}

// LocationReport is the raw inbound report from a driver client. Speed is
// in m/s as sent by device GPS and is converted to km/h on ingest.
type LocationReport struct {
	VehicleID int64
	TripID    int64
	RouteID   int64
	Latitude  float64
	Longitude float64
	SpeedMps  float64
	AccuracyM float64
	Timestamp time.Time
}

// LiveEvent is the outbound broadcast message. Field set is part of the
// client protocol; do not rename.
type LiveEvent struct {
	Type      string    `json:"type"` // always "location"
	VehicleID int64     `json:"vehicle_id"`
	TripID    int64     `json:"trip_id"`
	RouteID   int64     `json:"route_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   *int      `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}
