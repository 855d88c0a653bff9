package mq

import (
	"fmt"

	"bustrack/internal/shared/logger"
)

const (
	// ExchangeLocationFanout receives every accepted location sample for
	// downstream consumers (persistence workers, analytics).
	ExchangeLocationFanout = "location_fanout"

	// ExchangeBookingTopic carries booking lifecycle events, routed by
	// booking.<event>.<trip_id>.
	ExchangeBookingTopic = "booking_topic"
)

// SetupTopology declares all exchanges and queues. Idempotent.
func SetupTopology(mq *RabbitMQ, log *logger.Logger) error {
	mq.mu.RLock()
	ch := mq.ch
	mq.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("rabbitmq channel not available")
	}

	if err := ch.ExchangeDeclare(ExchangeLocationFanout, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeLocationFanout, err)
	}

	if err := ch.ExchangeDeclare(ExchangeBookingTopic, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeBookingTopic, err)
	}

	// Shared audit queue on the fanout; live consumers declare their own
	// auto-delete queues when they bind.
	if _, err := ch.QueueDeclare("location.audit", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare location.audit: %w", err)
	}
	if err := ch.QueueBind("location.audit", "", ExchangeLocationFanout, false, nil); err != nil {
		return fmt.Errorf("bind location.audit: %w", err)
	}

	bookingQueues := []string{
		"booking.created",
		"booking.cancelled",
	}
	for _, q := range bookingQueues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q+".*", ExchangeBookingTopic, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}

	log.Info(logger.Entry{
		Action:  "topology_setup_complete",
		Message: "all exchanges and queues created",
	})

	return nil
}
