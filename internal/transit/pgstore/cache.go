package pgstore

import (
	"context"
	"fmt"
	"time"

	"bustrack/internal/transit"

	"github.com/patrickmn/go-cache"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// CachedStore wraps a Store with an in-process cache for the static
// network reads that back every ETA query. Stops and route layouts change
// rarely; stale entries expire on the TTL. Everything dynamic goes
// straight through.
type CachedStore struct {
	*Store
	cache *cache.Cache
}

func NewCachedStore(store *Store) *CachedStore {
	return &CachedStore{
		Store: store,
		cache: cache.New(cacheTTL, cacheCleanup),
	}
}

func (c *CachedStore) GetStop(ctx context.Context, stopID int64) (transit.Stop, error) {
	key := fmt.Sprintf("stop:%d", stopID)
	if v, ok := c.cache.Get(key); ok {
		return v.(transit.Stop), nil
	}

	st, err := c.Store.GetStop(ctx, stopID)
	if err != nil {
		return transit.Stop{}, err
	}
	c.cache.SetDefault(key, st)
	return st, nil
}

func (c *CachedStore) GetRoute(ctx context.Context, routeID int64) (transit.Route, error) {
	key := fmt.Sprintf("route:%d", routeID)
	if v, ok := c.cache.Get(key); ok {
		return v.(transit.Route), nil
	}

	rt, err := c.Store.GetRoute(ctx, routeID)
	if err != nil {
		return transit.Route{}, err
	}
	c.cache.SetDefault(key, rt)
	return rt, nil
}

func (c *CachedStore) GetRouteStops(ctx context.Context, routeID int64) ([]transit.RouteStop, error) {
	key := fmt.Sprintf("route_stops:%d", routeID)
	if v, ok := c.cache.Get(key); ok {
		return v.([]transit.RouteStop), nil
	}

	stops, err := c.Store.GetRouteStops(ctx, routeID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, stops)
	return stops, nil
}
