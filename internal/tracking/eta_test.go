package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"bustrack/internal/geo"
	"bustrack/internal/shared/logger"
	"bustrack/internal/transit"
)

type fakeReader struct {
	stops      map[int64]transit.Stop
	routeStops map[int64][]transit.RouteStop
	active     map[int64][]transit.ActiveVehicle
}

func (f *fakeReader) GetStop(_ context.Context, stopID int64) (transit.Stop, error) {
	st, ok := f.stops[stopID]
	if !ok {
		return transit.Stop{}, transit.ErrStopNotFound
	}
	return st, nil
}

func (f *fakeReader) GetRouteStops(_ context.Context, routeID int64) ([]transit.RouteStop, error) {
	return f.routeStops[routeID], nil
}

func (f *fakeReader) ActiveVehiclesServingStop(_ context.Context, stopID int64) ([]transit.ActiveVehicle, error) {
	return f.active[stopID], nil
}

func newTestEngine(reader *fakeReader) *ETAEngine {
	return NewETAEngine(NewLocationStore(10), reader, nil, logger.NewLogger("test"))
}

func recordVehicle(e *ETAEngine, vehicleID int64, lat, lon, speedKmh float64) {
	e.store.RecordSample(Sample{
		VehicleID:  vehicleID,
		Position:   geo.Point{Lat: lat, Lon: lon},
		SpeedKmh:   speedKmh,
		CapturedAt: time.Now(),
	})
}

func TestEtaToStopMovingBus(t *testing.T) {
	reader := &fakeReader{stops: map[int64]transit.Stop{
		20: {ID: 20, Name: "Katubedda Junction", Position: geo.Point{Lat: 6.7145, Lon: 79.9150}},
	}}
	e := newTestEngine(reader)
	recordVehicle(e, 10, 6.7132, 79.9033, 32.4)

	got, err := e.EtaToStop(context.Background(), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	// ~1.3 km at an effective 22.68 km/h.
	if got.EtaMinutes != 4 {
		t.Errorf("eta = %d min, want 4", got.EtaMinutes)
	}
	if got.EtaText != "4 mins" {
		t.Errorf("text = %q, want \"4 mins\"", got.EtaText)
	}
	if got.StopName != "Katubedda Junction" {
		t.Errorf("stop name = %q", got.StopName)
	}
	if got.DistanceKm < 1.2 || got.DistanceKm > 1.4 {
		t.Errorf("distance = %v km, want ~1.3", got.DistanceKm)
	}
	if got.CurrentSpeed != 32.4 {
		t.Errorf("current speed = %v, want 32.4", got.CurrentSpeed)
	}
}

func TestEtaToStopSlowBusUsesFallbackSpeed(t *testing.T) {
	reader := &fakeReader{stops: map[int64]transit.Stop{
		// ~1.3 km east of the vehicle.
		20: {ID: 20, Name: "Stop", Position: geo.Point{Lat: 6.7132, Lon: 79.9151}},
	}}
	e := newTestEngine(reader)
	recordVehicle(e, 10, 6.7132, 79.9033, 5) // crawling: fallback 25 km/h applies

	got, err := e.EtaToStop(context.Background(), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	// ~1.3 km at 25 km/h: ceil(3.13) = 4.
	if got.EtaMinutes != 4 {
		t.Errorf("eta = %d min, want 4", got.EtaMinutes)
	}
}

func TestEtaToStopArrivingNow(t *testing.T) {
	reader := &fakeReader{stops: map[int64]transit.Stop{
		20: {ID: 20, Name: "Stop", Position: geo.Point{Lat: 6.71325, Lon: 79.90335}},
	}}
	e := newTestEngine(reader)
	recordVehicle(e, 10, 6.7132, 79.9033, 40)

	got, err := e.EtaToStop(context.Background(), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if got.EtaMinutes != 0 || got.EtaText != "Arriving now" {
		t.Errorf("got %d %q, want 0 \"Arriving now\"", got.EtaMinutes, got.EtaText)
	}
}

func TestEtaTextSingular(t *testing.T) {
	reader := &fakeReader{stops: map[int64]transit.Stop{
		// ~0.3 km away; at 25 km/h fallback that rounds up to 1 minute.
		20: {ID: 20, Name: "Stop", Position: geo.Point{Lat: 6.7132, Lon: 79.9060}},
	}}
	e := newTestEngine(reader)
	recordVehicle(e, 10, 6.7132, 79.9033, 0)

	got, err := e.EtaToStop(context.Background(), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if got.EtaMinutes != 1 || got.EtaText != "1 min" {
		t.Errorf("got %d %q, want 1 \"1 min\"", got.EtaMinutes, got.EtaText)
	}
}

func TestEtaMonotonicInDistance(t *testing.T) {
	reader := &fakeReader{stops: map[int64]transit.Stop{
		20: {ID: 20, Name: "Near", Position: geo.Point{Lat: 6.7132, Lon: 79.9100}},
		21: {ID: 21, Name: "Far", Position: geo.Point{Lat: 6.7132, Lon: 79.9500}},
	}}
	e := newTestEngine(reader)
	recordVehicle(e, 10, 6.7132, 79.9033, 30)

	near, err := e.EtaToStop(context.Background(), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	far, err := e.EtaToStop(context.Background(), 10, 21)
	if err != nil {
		t.Fatal(err)
	}
	if far.EtaMinutes < near.EtaMinutes {
		t.Errorf("farther stop eta %d < nearer stop eta %d", far.EtaMinutes, near.EtaMinutes)
	}
}

func TestEtaToStopErrors(t *testing.T) {
	reader := &fakeReader{stops: map[int64]transit.Stop{
		20: {ID: 20, Name: "Stop", Position: geo.Point{Lat: 6.7145, Lon: 79.9150}},
	}}
	e := newTestEngine(reader)

	if _, err := e.EtaToStop(context.Background(), 10, 20); !errors.Is(err, ErrVehicleNotTracked) {
		t.Errorf("untracked vehicle err = %v, want ErrVehicleNotTracked", err)
	}

	recordVehicle(e, 10, 6.7132, 79.9033, 20)
	if _, err := e.EtaToStop(context.Background(), 10, 999); !errors.Is(err, ErrStopNotFound) {
		t.Errorf("missing stop err = %v, want ErrStopNotFound", err)
	}
}

func TestEtaForRoutePicksNearestStopFirstWinsOnTie(t *testing.T) {
	rider := geo.Point{Lat: 6.7000, Lon: 79.9000}
	reader := &fakeReader{
		stops: map[int64]transit.Stop{
			1: {ID: 1, Name: "A", Position: geo.Point{Lat: 6.7000, Lon: 79.9100}},
			2: {ID: 2, Name: "B", Position: geo.Point{Lat: 6.7000, Lon: 79.9010}},
			3: {ID: 3, Name: "C", Position: geo.Point{Lat: 6.7000, Lon: 79.9010}}, // same place as B
		},
		routeStops: map[int64][]transit.RouteStop{
			7: {
				{Stop: transit.Stop{ID: 1, Name: "A", Position: geo.Point{Lat: 6.7000, Lon: 79.9100}}, Sequence: 1},
				{Stop: transit.Stop{ID: 2, Name: "B", Position: geo.Point{Lat: 6.7000, Lon: 79.9010}}, Sequence: 2},
				{Stop: transit.Stop{ID: 3, Name: "C", Position: geo.Point{Lat: 6.7000, Lon: 79.9010}}, Sequence: 3},
			},
		},
	}
	e := newTestEngine(reader)
	recordVehicle(e, 10, 6.7132, 79.9033, 30)

	got, err := e.EtaForRoute(context.Background(), 10, 7, rider)
	if err != nil {
		t.Fatal(err)
	}
	if got.NearestStop != "B" {
		t.Errorf("nearest stop = %q, want B (first of the tied pair)", got.NearestStop)
	}
	if got.StopID != 2 {
		t.Errorf("eta target stop = %d, want 2", got.StopID)
	}
	if got.DistanceToStopKm <= 0 || got.DistanceToStopKm > 0.2 {
		t.Errorf("distance to stop = %v km, want ~0.11", got.DistanceToStopKm)
	}
}

func TestEtaForRouteNoStops(t *testing.T) {
	e := newTestEngine(&fakeReader{routeStops: map[int64][]transit.RouteStop{}})
	recordVehicle(e, 10, 6.7132, 79.9033, 30)

	if _, err := e.EtaForRoute(context.Background(), 10, 7, geo.Point{Lat: 6.7, Lon: 79.9}); !errors.Is(err, ErrNoRouteStops) {
		t.Errorf("err = %v, want ErrNoRouteStops", err)
	}
}

func TestNextArrivalsSortedAndSkipsUntracked(t *testing.T) {
	reader := &fakeReader{
		stops: map[int64]transit.Stop{
			20: {ID: 20, Name: "Stop", Position: geo.Point{Lat: 6.7132, Lon: 79.9150}},
		},
		active: map[int64][]transit.ActiveVehicle{
			20: {
				{BusID: 1, TripID: 100, RouteID: 7},
				{BusID: 2, TripID: 200, RouteID: 7},
				{BusID: 3, TripID: 300, RouteID: 8}, // never reported a position
			},
		},
	}
	e := newTestEngine(reader)
	recordVehicle(e, 1, 6.7132, 79.8700, 30) // far
	recordVehicle(e, 2, 6.7132, 79.9100, 30) // near

	got, err := e.NextArrivals(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("arrivals = %d entries, want 2 (untracked skipped)", len(got))
	}
	if got[0].VehicleID != 2 || got[1].VehicleID != 1 {
		t.Errorf("order = [%d %d], want nearest bus first", got[0].VehicleID, got[1].VehicleID)
	}
	if got[0].EtaMinutes > got[1].EtaMinutes {
		t.Error("arrivals not sorted by ascending eta")
	}
}

func TestNextArrivalsEmpty(t *testing.T) {
	reader := &fakeReader{
		stops: map[int64]transit.Stop{
			20: {ID: 20, Name: "Stop", Position: geo.Point{Lat: 6.7132, Lon: 79.9150}},
		},
		active: map[int64][]transit.ActiveVehicle{},
	}
	e := newTestEngine(reader)

	if _, err := e.NextArrivals(context.Background(), 20); !errors.Is(err, ErrNoActiveVehicles) {
		t.Errorf("err = %v, want ErrNoActiveVehicles", err)
	}
}
