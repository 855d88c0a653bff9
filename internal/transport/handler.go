// Package transport exposes the HTTP and WebSocket surface of the
// tracking service.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"bustrack/internal/booking"
	"bustrack/internal/geo"
	"bustrack/internal/shared/auth"
	"bustrack/internal/shared/logger"
	"bustrack/internal/tracking"
	"bustrack/internal/transit"
)

const maxBodySize = 1 << 20 // 1MB

// TransitStore is the persistent directory the handlers read and update.
type TransitStore interface {
	tracking.TransitReader
	GetRoute(ctx context.Context, routeID int64) (transit.Route, error)
	GetDriverByLicense(ctx context.Context, licenseNumber string) (transit.Driver, error)
	SetBusTracking(ctx context.Context, busID int64, tracking bool) error
	MarkStopCompleted(ctx context.Context, tripID, stopID int64) error
	LocationHistory(ctx context.Context, busID int64, limit int) ([]tracking.Sample, error)
}

type HTTPHandler struct {
	broadcaster *tracking.Broadcaster
	eta         *tracking.ETAEngine
	bookings    *booking.Service
	store       TransitStore
	jwt         *auth.JWTService
	log         *logger.Logger

	nearbyFreshness time.Duration
	historyLimit    int
}

func NewHTTPHandler(
	broadcaster *tracking.Broadcaster,
	eta *tracking.ETAEngine,
	bookings *booking.Service,
	store TransitStore,
	jwt *auth.JWTService,
	log *logger.Logger,
	nearbyFreshness time.Duration,
	historyLimit int,
) *HTTPHandler {
	if nearbyFreshness <= 0 {
		nearbyFreshness = 5 * time.Minute
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &HTTPHandler{
		broadcaster:     broadcaster,
		eta:             eta,
		bookings:        bookings,
		store:           store,
		jwt:             jwt,
		log:             log,
		nearbyFreshness: nearbyFreshness,
		historyLimit:    historyLimit,
	}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	authMW := JWTMiddleware(h.jwt, h.log)
	driverMW := func(next http.HandlerFunc) http.HandlerFunc {
		return authMW(RequireRole("DRIVER")(next))
	}

	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("POST /api/drivers/login", h.handleDriverLogin)

	mux.HandleFunc("PUT /api/trips/{trip_id}/location", driverMW(h.handleLocationUpdate))
	mux.HandleFunc("PUT /api/trips/{trip_id}/stops/{stop_id}/complete", driverMW(h.handleMarkStopCompleted))
	mux.HandleFunc("PUT /api/buses/{bus_id}/tracking", driverMW(h.handleSetTracking))

	mux.HandleFunc("GET /api/buses/nearby", h.handleNearby)
	mux.HandleFunc("GET /api/buses/{bus_id}/locations", h.handleLocationHistory)
	mux.HandleFunc("GET /api/buses/{bus_id}/eta/{stop_id}", h.handleEtaToStop)
	mux.HandleFunc("GET /api/buses/{bus_id}/routes/{route_id}/eta", h.handleEtaForRoute)
	mux.HandleFunc("GET /api/stops/{stop_id}/arrivals", h.handleNextArrivals)

	mux.HandleFunc("POST /api/bookings", h.handleCreateBooking)
	mux.HandleFunc("POST /api/bookings/quote", h.handleFareQuote)
	mux.HandleFunc("GET /api/bookings/{key}", h.handleGetBooking)
	mux.HandleFunc("DELETE /api/bookings/{key}", h.handleCancelBooking)
	mux.HandleFunc("GET /api/trips/{trip_id}/seats", h.handleTripSeats)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *HTTPHandler) handleDriverLogin(w http.ResponseWriter, r *http.Request) {
	var req DriverLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	driver, err := h.store.GetDriverByLicense(r.Context(), req.LicenseNumber)
	if err != nil {
		if errors.Is(err, transit.ErrDriverNotFound) {
			h.respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.respondServiceError(w, err)
		return
	}
	if !auth.CheckPIN(driver.PINHash, req.PIN) {
		h.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.jwt.GenerateToken(strconv.FormatInt(driver.ID, 10), "DRIVER")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"driver": map[string]any{
			"driver_id":      driver.ID,
			"name":           driver.Name,
			"license_number": driver.LicenseNumber,
			"bus_id":         driver.BusID,
			"status":         driver.Status,
		},
	})
}

func (h *HTTPHandler) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.pathID(w, r, "trip_id")
	if !ok {
		return
	}

	var req LocationUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	report := tracking.LocationReport{
		VehicleID: req.BusID,
		TripID:    tripID,
		RouteID:   req.RouteID,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		SpeedMps:  req.SpeedMps,
		AccuracyM: req.AccuracyM,
	}
	if req.Timestamp != nil {
		report.Timestamp = *req.Timestamp
	}
	ev, err := h.broadcaster.OnLocationUpdate(r.Context(), report)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ev)
}

func (h *HTTPHandler) handleMarkStopCompleted(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.pathID(w, r, "trip_id")
	if !ok {
		return
	}
	stopID, ok := h.pathID(w, r, "stop_id")
	if !ok {
		return
	}

	if err := h.store.MarkStopCompleted(r.Context(), tripID, stopID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"trip_id":   tripID,
		"stop_id":   stopID,
		"completed": true,
	})
}

func (h *HTTPHandler) handleSetTracking(w http.ResponseWriter, r *http.Request) {
	busID, ok := h.pathID(w, r, "bus_id")
	if !ok {
		return
	}

	var req struct {
		Tracking *bool `json:"tracking"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Tracking == nil {
		h.respondError(w, http.StatusBadRequest, "tracking is required")
		return
	}

	if err := h.store.SetBusTracking(r.Context(), busID, *req.Tracking); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"bus_id":   busID,
		"tracking": *req.Tracking,
	})
}

func (h *HTTPHandler) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "lat is required")
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "lon is required")
		return
	}
	radius := 1000.0
	if raw := r.URL.Query().Get("radius"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil || radius <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid radius")
			return
		}
	}

	hits := h.broadcaster.Store().Nearby(geo.Point{Lat: lat, Lon: lon}, radius, h.nearbyFreshness)

	out := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		out = append(out, map[string]any{
			"bus_id":      hit.Sample.VehicleID,
			"trip_id":     hit.Sample.TripID,
			"route_id":    hit.Sample.RouteID,
			"latitude":    hit.Sample.Position.Lat,
			"longitude":   hit.Sample.Position.Lon,
			"speed_kmh":   hit.Sample.SpeedKmh,
			"distance_km": hit.DistanceKm,
			"captured_at": hit.Sample.CapturedAt,
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"buses": out})
}

func (h *HTTPHandler) handleLocationHistory(w http.ResponseWriter, r *http.Request) {
	busID, ok := h.pathID(w, r, "bus_id")
	if !ok {
		return
	}

	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	samples := h.broadcaster.Store().History(busID, limit)
	if len(samples) == 0 {
		// Cold store: fall back to the persisted trail.
		var err error
		samples, err = h.store.LocationHistory(r.Context(), busID, limit)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
	}

	out := make([]map[string]any, 0, len(samples))
	for _, s := range samples {
		entry := map[string]any{
			"bus_id":      s.VehicleID,
			"trip_id":     s.TripID,
			"route_id":    s.RouteID,
			"latitude":    s.Position.Lat,
			"longitude":   s.Position.Lon,
			"speed_kmh":   s.SpeedKmh,
			"captured_at": s.CapturedAt,
		}
		if s.HasHeading {
			entry["heading"] = s.Heading
		}
		out = append(out, entry)
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"locations": out})
}

func (h *HTTPHandler) handleEtaToStop(w http.ResponseWriter, r *http.Request) {
	busID, ok := h.pathID(w, r, "bus_id")
	if !ok {
		return
	}
	stopID, ok := h.pathID(w, r, "stop_id")
	if !ok {
		return
	}

	eta, err := h.eta.EtaToStop(r.Context(), busID, stopID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, eta)
}

func (h *HTTPHandler) handleEtaForRoute(w http.ResponseWriter, r *http.Request) {
	busID, ok := h.pathID(w, r, "bus_id")
	if !ok {
		return
	}
	routeID, ok := h.pathID(w, r, "route_id")
	if !ok {
		return
	}
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "lat is required")
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "lon is required")
		return
	}

	eta, err := h.eta.EtaForRoute(r.Context(), busID, routeID, geo.Point{Lat: lat, Lon: lon})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, eta)
}

func (h *HTTPHandler) handleNextArrivals(w http.ResponseWriter, r *http.Request) {
	stopID, ok := h.pathID(w, r, "stop_id")
	if !ok {
		return
	}

	arrivals, err := h.eta.NextArrivals(r.Context(), stopID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"arrivals": arrivals})
}

func (h *HTTPHandler) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.bookings.Create(r.Context(), booking.CreateRequest{
		TripID:         req.TripID,
		PickupStopID:   req.PickupStopID,
		DropoffStopID:  req.DropoffStopID,
		PassengerName:  req.PassengerName,
		PassengerPhone: req.PassengerPhone,
		Passengers:     req.Passengers,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, b)
}

func (h *HTTPHandler) handleFareQuote(w http.ResponseWriter, r *http.Request) {
	var req FareQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	quote, err := h.bookings.Quote(r.Context(), req.TripID, req.PickupStopID, req.DropoffStopID, req.Passengers)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, quote)
}

func (h *HTTPHandler) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	key := booking.ParseBookingKey(r.PathValue("key"))

	b, err := h.bookings.Get(r.Context(), key)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, b)
}

func (h *HTTPHandler) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	key := booking.ParseBookingKey(r.PathValue("key"))

	b, err := h.bookings.Cancel(r.Context(), key)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, b)
}

func (h *HTTPHandler) handleTripSeats(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.pathID(w, r, "trip_id")
	if !ok {
		return
	}

	seats, err := h.bookings.SeatsFor(r.Context(), tripID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"trip_id":         tripID,
		"total_seats":     seats.TotalSeats,
		"seats_booked":    seats.SeatsBooked,
		"seats_available": max(seats.TotalSeats-seats.SeatsBooked, 0),
		"is_full":         seats.SeatsBooked >= seats.TotalSeats,
	})
}

// decode reads and validates a JSON body, writing the error response
// itself on failure.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			h.respondError(w, http.StatusBadRequest, "empty request body")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid request format")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		h.respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracking.ErrInvalidCoordinates),
		errors.Is(err, booking.ErrInvalidStops),
		errors.Is(err, booking.ErrInvalidPassengers):
		h.respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, tracking.ErrVehicleNotTracked),
		errors.Is(err, tracking.ErrStopNotFound),
		errors.Is(err, tracking.ErrNoRouteStops),
		errors.Is(err, tracking.ErrNoActiveVehicles),
		errors.Is(err, transit.ErrStopNotFound),
		errors.Is(err, transit.ErrRouteNotFound),
		errors.Is(err, transit.ErrTripNotFound),
		errors.Is(err, transit.ErrBusNotFound),
		errors.Is(err, transit.ErrDriverNotFound),
		errors.Is(err, booking.ErrBookingNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, booking.ErrCapacityExceeded),
		errors.Is(err, booking.ErrAlreadyCancelled):
		h.respondError(w, http.StatusConflict, err.Error())

	case errors.Is(err, transit.ErrUnavailable):
		h.respondError(w, http.StatusServiceUnavailable, "service temporarily unavailable")

	default:
		h.log.Error(logger.Entry{
			Action:  "request_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error(logger.Entry{
			Action:  "encode_response_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
