package tracking

import (
	"sort"
	"sync"
	"time"

	"bustrack/internal/geo"
)

// LocationStore holds the latest known sample per vehicle plus a bounded
// recent-history ring. The outer map is guarded by its own lock; each
// vehicle's track has a separate lock, so writers for different vehicles
// never contend and readers never observe a half-written sample.
type LocationStore struct {
	mu       sync.RWMutex
	vehicles map[int64]*vehicleTrack
	depth    int
}

type vehicleTrack struct {
	mu     sync.RWMutex
	latest Sample
	ring   []Sample // fixed capacity, FIFO eviction
	head   int      // next write position
	size   int
}

// NewLocationStore creates a store keeping up to depth historical samples
// per vehicle. depth <= 0 falls back to 100.
func NewLocationStore(depth int) *LocationStore {
	if depth <= 0 {
		depth = 100
	}
	return &LocationStore{
		vehicles: make(map[int64]*vehicleTrack),
		depth:    depth,
	}
}

func (s *LocationStore) track(vehicleID int64, create bool) *vehicleTrack {
	s.mu.RLock()
	t := s.vehicles[vehicleID]
	s.mu.RUnlock()
	if t != nil || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t = s.vehicles[vehicleID]; t == nil {
		t = &vehicleTrack{ring: make([]Sample, s.depth)}
		s.vehicles[vehicleID] = t
	}
	return t
}

// RecordSample stores the sample as the vehicle's latest and appends it to
// the history ring, evicting the oldest entry once the ring is full.
func (s *LocationStore) RecordSample(sample Sample) {
	t := s.track(sample.VehicleID, true)

	t.mu.Lock()
	t.latest = sample
	t.ring[t.head] = sample
	t.head = (t.head + 1) % len(t.ring)
	if t.size < len(t.ring) {
		t.size++
	}
	t.mu.Unlock()
}

// Latest returns the most recent sample for a vehicle.
func (s *LocationStore) Latest(vehicleID int64) (Sample, bool) {
	t := s.track(vehicleID, false)
	if t == nil {
		return Sample{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.size == 0 {
		return Sample{}, false
	}
	return t.latest, true
}

// History returns up to limit samples for a vehicle, newest first. The
// result is a copy; it does not track later writes.
func (s *LocationStore) History(vehicleID int64, limit int) []Sample {
	t := s.track(vehicleID, false)
	if t == nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Sample, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.head - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}

// Count reports how many vehicles have at least one sample.
func (s *LocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// NearbyVehicle is one proximity search hit.
type NearbyVehicle struct {
	Sample     Sample
	DistanceKm float64
}

// Nearby returns vehicles whose latest sample lies within radiusMeters of
// point and was captured within freshness of now, ordered by ascending
// distance. Vehicles with stale or missing samples are excluded.
func (s *LocationStore) Nearby(point geo.Point, radiusMeters float64, freshness time.Duration) []NearbyVehicle {
	cutoff := time.Now().Add(-freshness)

	s.mu.RLock()
	tracks := make([]*vehicleTrack, 0, len(s.vehicles))
	for _, t := range s.vehicles {
		tracks = append(tracks, t)
	}
	s.mu.RUnlock()

	var out []NearbyVehicle
	for _, t := range tracks {
		t.mu.RLock()
		ok := t.size > 0
		sample := t.latest
		t.mu.RUnlock()
		if !ok || sample.CapturedAt.Before(cutoff) {
			continue
		}

		d := geo.DistanceKm(point, sample.Position)
		if d*1000 <= radiusMeters {
			out = append(out, NearbyVehicle{Sample: sample, DistanceKm: d})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}
