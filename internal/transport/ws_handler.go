package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bustrack/internal/shared/logger"
	"bustrack/internal/shared/ws"
	"bustrack/internal/tracking"
)

// NewWSMessageHandler routes inbound WebSocket messages: topic
// subscriptions from rider apps and live position reports from driver
// apps.
func NewWSMessageHandler(
	broadcaster *tracking.Broadcaster,
	hub *ws.Hub,
	metrics *tracking.Collector,
	log *logger.Logger,
) ws.MessageHandler {
	registry := broadcaster.Registry()

	syncGauges := func() {
		if metrics == nil {
			return
		}
		topics, subs := registry.Counts()
		metrics.ActiveTopics.Set(float64(topics))
		metrics.ActiveSubscriptions.Set(float64(subs))
	}

	return func(client *ws.Client, messageType string, data json.RawMessage) error {
		switch messageType {
		case "ping":
			hub.SendJSON(client.ID, map[string]string{"type": "pong"})
			return nil

		case "route:subscribe", "route:unsubscribe":
			var msg struct {
				RouteID int64 `json:"route_id"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.RouteID < 1 {
				return fmt.Errorf("%s: route_id is required", messageType)
			}
			topic := tracking.RouteTopic(msg.RouteID)
			if messageType == "route:subscribe" {
				registry.Join(client.ID, topic)
			} else {
				registry.Leave(client.ID, topic)
			}
			syncGauges()
			hub.SendJSON(client.ID, map[string]any{
				"type":  messageType + ":ok",
				"topic": topic,
			})
			return nil

		case "bus:subscribe", "bus:unsubscribe":
			var msg struct {
				BusID int64 `json:"bus_id"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.BusID < 1 {
				return fmt.Errorf("%s: bus_id is required", messageType)
			}
			topic := tracking.VehicleTopic(msg.BusID)
			if messageType == "bus:subscribe" {
				registry.Join(client.ID, topic)
			} else {
				registry.Leave(client.ID, topic)
			}
			syncGauges()
			hub.SendJSON(client.ID, map[string]any{
				"type":  messageType + ":ok",
				"topic": topic,
			})
			return nil

		case "driver:subscribe":
			var msg struct {
				DriverID int64 `json:"driver_id"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.DriverID < 1 {
				return fmt.Errorf("driver:subscribe: driver_id is required")
			}
			// Drivers may only listen on their own topic.
			if client.Role != "DRIVER" || client.UserID != fmt.Sprint(msg.DriverID) {
				return fmt.Errorf("driver:subscribe: not allowed")
			}
			registry.Join(client.ID, tracking.DriverTopic(msg.DriverID))
			syncGauges()
			hub.SendJSON(client.ID, map[string]any{
				"type":  "driver:subscribe:ok",
				"topic": tracking.DriverTopic(msg.DriverID),
			})
			return nil

		case "driver:location":
			if client.Role != "DRIVER" {
				return fmt.Errorf("driver:location: not allowed")
			}
			var msg struct {
				BusID     int64      `json:"bus_id"`
				TripID    int64      `json:"trip_id"`
				RouteID   int64      `json:"route_id"`
				Latitude  *float64   `json:"latitude"`
				Longitude *float64   `json:"longitude"`
				SpeedMps  float64    `json:"speed"`
				AccuracyM float64    `json:"accuracy"`
				Timestamp *time.Time `json:"ts"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("driver:location: %w", err)
			}
			if msg.Latitude == nil || msg.Longitude == nil {
				return tracking.ErrInvalidCoordinates
			}

			report := tracking.LocationReport{
				VehicleID: msg.BusID,
				TripID:    msg.TripID,
				RouteID:   msg.RouteID,
				Latitude:  *msg.Latitude,
				Longitude: *msg.Longitude,
				SpeedMps:  msg.SpeedMps,
				AccuracyM: msg.AccuracyM,
			}
			if msg.Timestamp != nil {
				report.Timestamp = *msg.Timestamp
			}
			_, err := broadcaster.OnLocationUpdate(context.Background(), report)
			return err

		default:
			log.Debug(logger.Entry{
				Action:  "ws_unknown_message",
				Message: messageType,
				Additional: map[string]any{
					"client_id": client.ID,
				},
			})
			return nil
		}
	}
}
