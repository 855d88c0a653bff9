package tracking

import (
	"fmt"
	"sync"
)

// Topic names. Three families only; this is not a general broker.
func RouteTopic(routeID int64) string    { return fmt.Sprintf("route:%d", routeID) }
func VehicleTopic(vehicleID int64) string { return fmt.Sprintf("vehicle:%d", vehicleID) }
func DriverTopic(driverID int64) string  { return fmt.Sprintf("driver:%d", driverID) }

// SubscriptionRegistry tracks which connections joined which topics.
// A single lock covers both indexes; subscriber counts are in the
// hundreds, so per-topic sharding buys nothing here.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]struct{} // topic -> connection ids
	conns  map[string]map[string]struct{} // connection id -> topics
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		topics: make(map[string]map[string]struct{}),
		conns:  make(map[string]map[string]struct{}),
	}
}

// Join subscribes a connection to a topic. Idempotent.
func (r *SubscriptionRegistry) Join(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.topics[topic] == nil {
		r.topics[topic] = make(map[string]struct{})
	}
	r.topics[topic][connID] = struct{}{}

	if r.conns[connID] == nil {
		r.conns[connID] = make(map[string]struct{})
	}
	r.conns[connID][topic] = struct{}{}
}

// Leave unsubscribes a connection from a topic. Idempotent.
func (r *SubscriptionRegistry) Leave(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, topic)
}

func (r *SubscriptionRegistry) leaveLocked(connID, topic string) {
	if set := r.topics[topic]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.topics, topic)
		}
	}
	if set := r.conns[connID]; set != nil {
		delete(set, topic)
		if len(set) == 0 {
			delete(r.conns, connID)
		}
	}
}

// DropConnection removes every subscription held by a connection. After it
// returns no topic retains the connection id.
func (r *SubscriptionRegistry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.conns[connID] {
		r.leaveLocked(connID, topic)
	}
	delete(r.conns, connID)
}

// SubscribersOf returns a snapshot of the connection ids subscribed to a
// topic. Iteration order is unspecified.
func (r *SubscriptionRegistry) SubscribersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.topics[topic]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Counts reports the current number of topics and subscriptions, for
// metrics.
func (r *SubscriptionRegistry) Counts() (topics, subscriptions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.topics {
		subscriptions += len(set)
	}
	return len(r.topics), subscriptions
}
