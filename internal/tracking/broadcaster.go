package tracking

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"bustrack/internal/geo"
	"bustrack/internal/shared/logger"
)

// Sender delivers a payload to one connection's outbound queue. The call
// must not block: implementations report false when the queue is full or
// the connection is gone, and the event is simply lost for that subscriber.
type Sender interface {
	Send(connID string, payload []byte) bool
}

// SampleSink persists accepted samples for history/audit. Called off the
// broadcast path; failures are logged, never surfaced to the reporter.
type SampleSink interface {
	PersistSample(ctx context.Context, s Sample) error
}

// EventSink forwards accepted events to the message broker for downstream
// consumers. Optional.
type EventSink interface {
	PublishLocation(ctx context.Context, ev LiveEvent) error
}

// Broadcaster owns the ingest path for location reports: validate, derive
// heading, record in the LocationStore, then fan out to the route and
// vehicle topics. One broadcaster per process, constructed explicitly and
// handed to transport via dependency injection.
//
// Events for a single vehicle are applied and broadcast in call order;
// each driver client reports over one connection, so per-vehicle ordering
// holds as long as the caller does not ingest one vehicle concurrently.
type Broadcaster struct {
	store    *LocationStore
	registry *SubscriptionRegistry
	sender   Sender
	samples  SampleSink
	events   EventSink
	metrics  *Collector
	log      *logger.Logger

	persistTimeout time.Duration
}

func NewBroadcaster(
	store *LocationStore,
	registry *SubscriptionRegistry,
	sender Sender,
	samples SampleSink,
	events EventSink,
	metrics *Collector,
	log *logger.Logger,
	persistTimeout time.Duration,
) *Broadcaster {
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &Broadcaster{
		store:          store,
		registry:       registry,
		sender:         sender,
		samples:        samples,
		events:         events,
		metrics:        metrics,
		log:            log,
		persistTimeout: persistTimeout,
	}
}

// Store exposes the location store for read-side consumers (ETA, nearby,
// history).
func (b *Broadcaster) Store() *LocationStore { return b.store }

// Registry exposes the subscription registry for the connection layer.
func (b *Broadcaster) Registry() *SubscriptionRegistry { return b.registry }

// OnLocationUpdate ingests one raw report. Returns the broadcast event on
// success. Rejection happens before any state mutation.
func (b *Broadcaster) OnLocationUpdate(ctx context.Context, report LocationReport) (LiveEvent, error) {
	if !validCoordinate(report.Latitude, report.Longitude) {
		if b.metrics != nil {
			b.metrics.ReportsRejected.Inc()
		}
		return LiveEvent{}, ErrInvalidCoordinates
	}

	sample := Sample{
		VehicleID:  report.VehicleID,
		TripID:     report.TripID,
		RouteID:    report.RouteID,
		Position:   geo.Point{Lat: report.Latitude, Lon: report.Longitude},
		SpeedKmh:   report.SpeedMps * 3.6,
		AccuracyM:  report.AccuracyM,
		CapturedAt: report.Timestamp,
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now().UTC()
	}

	if prev, ok := b.store.Latest(report.VehicleID); ok {
		sample.Heading, sample.HasHeading = deriveHeading(prev, sample.Position)
	}

	b.store.RecordSample(sample)

	ev := LiveEvent{
		Type:      "location",
		VehicleID: sample.VehicleID,
		TripID:    sample.TripID,
		RouteID:   sample.RouteID,
		Latitude:  sample.Position.Lat,
		Longitude: sample.Position.Lon,
		SpeedKmh:  sample.SpeedKmh,
		Timestamp: sample.CapturedAt,
	}
	if sample.HasHeading {
		h := sample.Heading
		ev.Heading = &h
	}

	b.fanOut(ev)
	b.persistAsync(sample, ev)

	if b.metrics != nil {
		b.metrics.ReportsIngested.Inc()
		b.metrics.TrackedVehicles.Set(float64(b.store.Count()))
	}
	return ev, nil
}

// fanOut publishes one event to the route topic and the vehicle topic. A
// connection subscribed to both receives the event twice; that is part of
// the contract, not a bug to deduplicate.
func (b *Broadcaster) fanOut(ev LiveEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error(logger.Entry{
			Action:  "event_marshal_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
		return
	}

	delivered, dropped := 0, 0
	for _, topic := range []string{RouteTopic(ev.RouteID), VehicleTopic(ev.VehicleID)} {
		for _, connID := range b.registry.SubscribersOf(topic) {
			if b.sender.Send(connID, payload) {
				delivered++
			} else {
				dropped++
			}
		}
	}

	if b.metrics != nil {
		b.metrics.EventsDelivered.Add(float64(delivered))
		b.metrics.EventsDropped.Add(float64(dropped))
	}
	if dropped > 0 {
		b.log.Warn(logger.Entry{
			Action:  "broadcast_partial",
			Message: "some subscribers did not receive the event",
			TripID:  strconv.FormatInt(ev.TripID, 10),
			Additional: map[string]any{
				"vehicle_id": ev.VehicleID,
				"delivered":  delivered,
				"dropped":    dropped,
			},
		})
	}
}

// persistAsync writes the sample to durable storage and the broker without
// holding up the broadcast. Both failures are logged and swallowed.
func (b *Broadcaster) persistAsync(sample Sample, ev LiveEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.persistTimeout)
		defer cancel()

		if b.samples != nil {
			if err := b.samples.PersistSample(ctx, sample); err != nil {
				if b.metrics != nil {
					b.metrics.PersistFailures.Inc()
				}
				b.log.Error(logger.Entry{
					Action:  "sample_persist_failed",
					Message: err.Error(),
					Error:   &logger.ErrObj{Msg: err.Error()},
					Additional: map[string]any{
						"vehicle_id": sample.VehicleID,
					},
				})
			}
		}

		if b.events != nil {
			if err := b.events.PublishLocation(ctx, ev); err != nil {
				b.log.Error(logger.Entry{
					Action:  "event_publish_failed",
					Message: err.Error(),
					Error:   &logger.ErrObj{Msg: err.Error()},
					Additional: map[string]any{
						"vehicle_id": sample.VehicleID,
					},
				})
			}
		}
	}()
}

// deriveHeading computes the bearing from the previous position. A vehicle
// that has not moved keeps its previous heading.
func deriveHeading(prev Sample, pos geo.Point) (int, bool) {
	if prev.Position == pos {
		return prev.Heading, prev.HasHeading
	}
	deg := geo.HeadingDegrees(prev.Position, pos)
	if math.IsNaN(deg) {
		return 0, false
	}
	return int(math.Round(deg)) % 360, true
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
