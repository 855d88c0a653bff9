package transport

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LocationUpdateRequest is the driver app's position report. Latitude and
// longitude are pointers so that an absent field fails validation instead
// of silently reading as zero. The capture time is optional; reports
// without it are stamped on arrival.
type LocationUpdateRequest struct {
	Latitude  *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	SpeedMps  float64    `json:"speed" validate:"gte=0"`
	AccuracyM float64    `json:"accuracy" validate:"gte=0"`
	BusID     int64      `json:"bus_id" validate:"required,gt=0"`
	RouteID   int64      `json:"route_id" validate:"required,gt=0"`
	Timestamp *time.Time `json:"ts,omitempty"`
}

type DriverLoginRequest struct {
	LicenseNumber string `json:"license_number" validate:"required"`
	PIN           string `json:"pin" validate:"required,min=4"`
}

type CreateBookingRequest struct {
	TripID         int64  `json:"trip_id" validate:"required,gt=0"`
	PickupStopID   int64  `json:"pickup_stop_id" validate:"required,gt=0"`
	DropoffStopID  int64  `json:"dropoff_stop_id" validate:"required,gt=0"`
	PassengerName  string `json:"passenger_name" validate:"required,min=2"`
	PassengerPhone string `json:"passenger_phone" validate:"omitempty,min=7"`
	Passengers     int    `json:"number_of_passengers" validate:"required,gte=1,lte=10"`
}

type FareQuoteRequest struct {
	TripID        int64 `json:"trip_id" validate:"required,gt=0"`
	PickupStopID  int64 `json:"pickup_stop_id" validate:"required,gt=0"`
	DropoffStopID int64 `json:"dropoff_stop_id" validate:"required,gt=0"`
	Passengers    int   `json:"number_of_passengers" validate:"required,gte=1,lte=10"`
}
