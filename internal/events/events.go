// Package events bridges domain events onto the message broker and the
// live WebSocket topics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bustrack/internal/booking"
	"bustrack/internal/shared/logger"
	"bustrack/internal/shared/mq"
	"bustrack/internal/tracking"
)

const mqPublishTimeout = 5 * time.Second

// LocationPublisher fans accepted location events out to the broker so
// off-process consumers (analytics, archival) see the same stream the
// WebSocket clients do.
type LocationPublisher struct {
	mq *mq.RabbitMQ
}

func NewLocationPublisher(broker *mq.RabbitMQ) *LocationPublisher {
	return &LocationPublisher{mq: broker}
}

func (p *LocationPublisher) PublishLocation(ctx context.Context, ev tracking.LiveEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal location event: %w", err)
	}
	return p.mq.Publish(ctx, mq.ExchangeLocationFanout, "", body)
}

// BookingNotifier pushes booking lifecycle events to the trip's driver
// over their WebSocket topic and mirrors them onto the broker. Delivery
// is best effort on both paths.
type BookingNotifier struct {
	registry *tracking.SubscriptionRegistry
	sender   tracking.Sender
	mq       *mq.RabbitMQ
	log      *logger.Logger
}

func NewBookingNotifier(registry *tracking.SubscriptionRegistry, sender tracking.Sender, broker *mq.RabbitMQ, log *logger.Logger) *BookingNotifier {
	return &BookingNotifier{
		registry: registry,
		sender:   sender,
		mq:       broker,
		log:      log,
	}
}

func (n *BookingNotifier) BookingCreated(b booking.Booking, driverID int64) {
	n.notify("booking:new", "booking.created", b, driverID)
}

func (n *BookingNotifier) BookingCancelled(b booking.Booking, driverID int64) {
	n.notify("booking:cancelled", "booking.cancelled", b, driverID)
}

func (n *BookingNotifier) notify(eventType, routingKey string, b booking.Booking, driverID int64) {
	payload, err := json.Marshal(map[string]any{
		"type":    eventType,
		"booking": b,
	})
	if err != nil {
		return
	}

	for _, connID := range n.registry.SubscribersOf(tracking.DriverTopic(driverID)) {
		if !n.sender.Send(connID, payload) {
			n.log.Warn(logger.Entry{
				Action:  "driver_notify_dropped",
				Message: b.Reference,
				Additional: map[string]any{
					"driver_id": driverID,
				},
			})
		}
	}

	if n.mq != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mqPublishTimeout)
		defer cancel()
		key := fmt.Sprintf("%s.%d", routingKey, b.TripID)
		if err := n.mq.Publish(ctx, mq.ExchangeBookingTopic, key, payload); err != nil {
			n.log.Error(logger.Entry{
				Action:  "booking_event_publish_failed",
				Message: err.Error(),
				Error:   &logger.ErrObj{Msg: err.Error()},
			})
		}
	}
}
