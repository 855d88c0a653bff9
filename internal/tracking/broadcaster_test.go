package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"bustrack/internal/shared/logger"
)

type captureSender struct {
	mu     sync.Mutex
	byConn map[string][][]byte
	full   map[string]bool
}

func newCaptureSender() *captureSender {
	return &captureSender{
		byConn: make(map[string][][]byte),
		full:   make(map[string]bool),
	}
}

func (c *captureSender) Send(connID string, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full[connID] {
		return false
	}
	c.byConn[connID] = append(c.byConn[connID], payload)
	return true
}

func (c *captureSender) received(connID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byConn[connID])
}

type captureSink struct{ ch chan Sample }

func (c *captureSink) PersistSample(_ context.Context, s Sample) error {
	c.ch <- s
	return nil
}

func newTestBroadcaster(sender Sender, samples SampleSink) *Broadcaster {
	return NewBroadcaster(
		NewLocationStore(10),
		NewSubscriptionRegistry(),
		sender,
		samples,
		nil,
		nil,
		logger.NewLogger("test"),
		time.Second,
	)
}

func report(vehicleID, routeID int64, lat, lon, speedMps float64) LocationReport {
	return LocationReport{
		VehicleID: vehicleID,
		TripID:    vehicleID * 100,
		RouteID:   routeID,
		Latitude:  lat,
		Longitude: lon,
		SpeedMps:  speedMps,
	}
}

func TestRejectsInvalidCoordinatesBeforeAnyStateChange(t *testing.T) {
	b := newTestBroadcaster(newCaptureSender(), nil)

	bad := []LocationReport{
		report(1, 5, 91, 79.9, 0),
		report(1, 5, -91, 79.9, 0),
		report(1, 5, 6.7, 181, 0),
		report(1, 5, 6.7, -181, 0),
		report(1, 5, math.NaN(), 79.9, 0),
		report(1, 5, 6.7, math.Inf(1), 0),
	}
	for _, r := range bad {
		if _, err := b.OnLocationUpdate(context.Background(), r); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("lat=%v lon=%v: err = %v, want ErrInvalidCoordinates", r.Latitude, r.Longitude, err)
		}
	}
	if _, ok := b.Store().Latest(1); ok {
		t.Error("rejected report must not reach the store")
	}
}

func TestSpeedConvertedToKmh(t *testing.T) {
	b := newTestBroadcaster(newCaptureSender(), nil)

	ev, err := b.OnLocationUpdate(context.Background(), report(1, 5, 6.7132, 79.9033, 10))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ev.SpeedKmh-36.0) > 1e-9 {
		t.Errorf("event speed = %v km/h, want 36", ev.SpeedKmh)
	}
	got, _ := b.Store().Latest(1)
	if math.Abs(got.SpeedKmh-36.0) > 1e-9 {
		t.Errorf("stored speed = %v km/h, want 36", got.SpeedKmh)
	}
}

func TestHeadingDerivedFromConsecutiveSamples(t *testing.T) {
	b := newTestBroadcaster(newCaptureSender(), nil)
	ctx := context.Background()

	first, err := b.OnLocationUpdate(ctx, report(1, 5, 6.7132, 79.9033, 5))
	if err != nil {
		t.Fatal(err)
	}
	if first.Heading != nil {
		t.Errorf("first event heading = %v, want unknown", *first.Heading)
	}

	// Due east of the first position.
	second, err := b.OnLocationUpdate(ctx, report(1, 5, 6.7132, 79.9133, 5))
	if err != nil {
		t.Fatal(err)
	}
	if second.Heading == nil {
		t.Fatal("second event should carry a heading")
	}
	if *second.Heading < 89 || *second.Heading > 91 {
		t.Errorf("eastbound heading = %d, want ~90", *second.Heading)
	}

	// Same position again: heading carries over.
	third, err := b.OnLocationUpdate(ctx, report(1, 5, 6.7132, 79.9133, 0))
	if err != nil {
		t.Fatal(err)
	}
	if third.Heading == nil || *third.Heading != *second.Heading {
		t.Errorf("stationary heading = %v, want %d preserved", third.Heading, *second.Heading)
	}
}

func TestFanOutScopedToRouteAndVehicleTopics(t *testing.T) {
	sender := newCaptureSender()
	b := newTestBroadcaster(sender, nil)
	reg := b.Registry()

	reg.Join("routeSub", RouteTopic(5))
	reg.Join("otherRoute", RouteTopic(6))
	reg.Join("vehicleSub", VehicleTopic(1))
	reg.Join("both", RouteTopic(5))
	reg.Join("both", VehicleTopic(1))

	if _, err := b.OnLocationUpdate(context.Background(), report(1, 5, 6.7132, 79.9033, 5)); err != nil {
		t.Fatal(err)
	}

	if n := sender.received("routeSub"); n != 1 {
		t.Errorf("route subscriber got %d events, want 1", n)
	}
	if n := sender.received("vehicleSub"); n != 1 {
		t.Errorf("vehicle subscriber got %d events, want 1", n)
	}
	if n := sender.received("otherRoute"); n != 0 {
		t.Errorf("other-route subscriber got %d events, want 0", n)
	}
	// Subscribed via both topics: one copy per topic.
	if n := sender.received("both"); n != 2 {
		t.Errorf("dual subscriber got %d events, want 2", n)
	}
}

func TestSlowSubscriberDoesNotBlockIngest(t *testing.T) {
	sender := newCaptureSender()
	sender.full["stuck"] = true
	b := newTestBroadcaster(sender, nil)
	b.Registry().Join("stuck", RouteTopic(5))
	b.Registry().Join("healthy", RouteTopic(5))

	for i := 0; i < 3; i++ {
		if _, err := b.OnLocationUpdate(context.Background(), report(1, 5, 6.7132, 79.9033, 5)); err != nil {
			t.Fatal(err)
		}
	}

	if n := sender.received("healthy"); n != 3 {
		t.Errorf("healthy subscriber got %d events, want 3", n)
	}
	if n := sender.received("stuck"); n != 0 {
		t.Errorf("stuck subscriber got %d events, want 0", n)
	}
}

func TestAcceptedSamplePersisted(t *testing.T) {
	sink := &captureSink{ch: make(chan Sample, 1)}
	b := newTestBroadcaster(newCaptureSender(), sink)

	if _, err := b.OnLocationUpdate(context.Background(), report(3, 8, 6.7132, 79.9033, 2.5)); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-sink.ch:
		if got.VehicleID != 3 || got.RouteID != 8 {
			t.Errorf("persisted sample ids = (%d, %d), want (3, 8)", got.VehicleID, got.RouteID)
		}
		if math.Abs(got.SpeedKmh-9.0) > 1e-9 {
			t.Errorf("persisted speed = %v km/h, want 9", got.SpeedKmh)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sample never reached the sink")
	}
}

func TestZeroTimestampDefaultsToNow(t *testing.T) {
	b := newTestBroadcaster(newCaptureSender(), nil)

	before := time.Now().UTC().Add(-time.Second)
	ev, err := b.OnLocationUpdate(context.Background(), report(1, 5, 6.7132, 79.9033, 0))
	if err != nil {
		t.Fatal(err)
	}
	after := time.Now().UTC().Add(time.Second)
	if ev.Timestamp.Before(before) || ev.Timestamp.After(after) {
		t.Errorf("defaulted timestamp %v outside [%v, %v]", ev.Timestamp, before, after)
	}
}
