package booking

import (
	"math"

	"bustrack/internal/transit"
)

// Quote is a priced journey segment.
type Quote struct {
	EstimatedDistanceKm float64 `json:"estimated_distance_km"`
	FarePerPassenger    float64 `json:"fare_per_passenger"`
	TotalFare           float64 `json:"total_fare"`
}

// FareQuote prices a segment of a route by prorating the route's length
// over the stops travelled. pickupSeq and dropoffSeq are stop sequence
// numbers on the route; stopCount is the route's total stop count.
func FareQuote(route transit.Route, stopCount, pickupSeq, dropoffSeq, passengers int) Quote {
	span := stopCount - 1
	if span < 1 {
		span = 1
	}
	stopsTravelled := dropoffSeq - pickupSeq

	distance := route.DistanceKm * float64(stopsTravelled) / float64(span)
	perPassenger := route.BaseFare + route.FarePerKm*distance

	return Quote{
		EstimatedDistanceKm: round2(distance),
		FarePerPassenger:    round2(perPassenger),
		TotalFare:           round2(perPassenger * float64(passengers)),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
