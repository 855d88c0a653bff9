package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"bustrack/internal/geo"
	"bustrack/internal/shared/logger"
	"bustrack/internal/transit"
)

// ETA heuristic constants. The 0.7 discount accounts for stops and
// traffic when the bus is moving; 25 km/h is the assumed city average
// when it is stationary or crawling.
const (
	arrivingRadiusKm   = 0.1
	movingThresholdKmh = 10.0
	movingDiscount     = 0.7
	fallbackSpeedKmh   = 25.0
)

// TransitReader is the slice of the persistent store the ETA engine needs.
type TransitReader interface {
	GetStop(ctx context.Context, stopID int64) (transit.Stop, error)
	GetRouteStops(ctx context.Context, routeID int64) ([]transit.RouteStop, error)
	ActiveVehiclesServingStop(ctx context.Context, stopID int64) ([]transit.ActiveVehicle, error)
}

// ETA is a derived arrival estimate. Never cached; recomputed per request
// from one consistent snapshot of the vehicle's position.
type ETA struct {
	VehicleID    int64   `json:"bus_id"`
	StopID       int64   `json:"stop_id"`
	StopName     string  `json:"stop_name"`
	DistanceKm   float64 `json:"distance_km"`
	CurrentSpeed float64 `json:"current_speed"`
	EtaMinutes   int     `json:"eta_minutes"`
	EtaText      string  `json:"eta_text"`
}

// RouteETA augments an ETA with the stop nearest to the rider.
type RouteETA struct {
	ETA
	NearestStop      string  `json:"nearest_stop"`
	DistanceToStopKm float64 `json:"distance_to_stop_km"`
}

// ETAEngine answers arrival-estimate queries from the live position store
// and the static network.
type ETAEngine struct {
	store   *LocationStore
	reader  TransitReader
	metrics *Collector
	log     *logger.Logger
}

func NewETAEngine(store *LocationStore, reader TransitReader, metrics *Collector, log *logger.Logger) *ETAEngine {
	return &ETAEngine{store: store, reader: reader, metrics: metrics, log: log}
}

// EtaToStop estimates arrival of a vehicle at a stop.
func (e *ETAEngine) EtaToStop(ctx context.Context, vehicleID, stopID int64) (ETA, error) {
	sample, ok := e.store.Latest(vehicleID)
	if !ok {
		return ETA{}, fmt.Errorf("vehicle %d: %w", vehicleID, ErrVehicleNotTracked)
	}

	stop, err := e.reader.GetStop(ctx, stopID)
	if err != nil {
		if errors.Is(err, transit.ErrStopNotFound) {
			return ETA{}, fmt.Errorf("stop %d: %w", stopID, ErrStopNotFound)
		}
		return ETA{}, err
	}

	distance := geo.DistanceKm(sample.Position, stop.Position)
	eta := ETA{
		VehicleID:    vehicleID,
		StopID:       stopID,
		StopName:     stop.Name,
		DistanceKm:   round2(distance),
		CurrentSpeed: round1(sample.SpeedKmh),
	}

	// Within 100 m the speed heuristic is noise; short-circuit.
	if distance < arrivingRadiusKm {
		eta.EtaMinutes = 0
		eta.EtaText = "Arriving now"
		if e.metrics != nil {
			e.metrics.ETAQueries.Inc()
		}
		return eta, nil
	}

	eta.EtaMinutes = int(math.Ceil(distance / effectiveSpeed(sample.SpeedKmh) * 60))
	eta.EtaText = etaText(eta.EtaMinutes)
	if e.metrics != nil {
		e.metrics.ETAQueries.Inc()
	}
	return eta, nil
}

// EtaForRoute finds the stop on the route nearest to the rider, then
// estimates the vehicle's arrival there. Ties break on route order.
func (e *ETAEngine) EtaForRoute(ctx context.Context, vehicleID, routeID int64, rider geo.Point) (RouteETA, error) {
	stops, err := e.reader.GetRouteStops(ctx, routeID)
	if err != nil {
		return RouteETA{}, err
	}
	if len(stops) == 0 {
		return RouteETA{}, fmt.Errorf("route %d: %w", routeID, ErrNoRouteStops)
	}

	nearest := stops[0]
	minDist := geo.DistanceKm(rider, stops[0].Position)
	for _, st := range stops[1:] {
		if d := geo.DistanceKm(rider, st.Position); d < minDist {
			minDist = d
			nearest = st
		}
	}

	eta, err := e.EtaToStop(ctx, vehicleID, nearest.ID)
	if err != nil {
		return RouteETA{}, err
	}

	return RouteETA{
		ETA:              eta,
		NearestStop:      nearest.Name,
		DistanceToStopKm: round2(minDist),
	}, nil
}

// NextArrivals estimates arrivals of every actively tracking vehicle whose
// route serves the stop, sorted soonest first. Vehicles whose estimate
// cannot be computed (typically: no recent sample) are skipped. An empty
// result is reported as ErrNoActiveVehicles rather than a bare empty list.
func (e *ETAEngine) NextArrivals(ctx context.Context, stopID int64) ([]ETA, error) {
	vehicles, err := e.reader.ActiveVehiclesServingStop(ctx, stopID)
	if err != nil {
		return nil, err
	}

	out := make([]ETA, 0, len(vehicles))
	for _, v := range vehicles {
		eta, err := e.EtaToStop(ctx, v.BusID, stopID)
		if err != nil {
			e.log.Debug(logger.Entry{
				Action:  "arrival_estimate_skipped",
				Message: err.Error(),
				Additional: map[string]any{
					"bus_id":  v.BusID,
					"stop_id": stopID,
				},
			})
			continue
		}
		out = append(out, eta)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("stop %d: %w", stopID, ErrNoActiveVehicles)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].EtaMinutes < out[j].EtaMinutes })
	return out, nil
}

func effectiveSpeed(reportedKmh float64) float64 {
	if reportedKmh > movingThresholdKmh {
		return reportedKmh * movingDiscount
	}
	return fallbackSpeedKmh
}

func etaText(minutes int) string {
	switch {
	case minutes < 1:
		return "Arriving now"
	case minutes == 1:
		return "1 min"
	default:
		return fmt.Sprintf("%d mins", minutes)
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
