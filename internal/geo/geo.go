// Package geo holds the pure distance and bearing math used by the ETA
// engine and proximity queries. Non-finite inputs are not validated here;
// NaN propagates through every function so callers can reject it once at
// the boundary.
package geo

import "math"

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// DistanceKm returns the great-circle distance between two points in
// kilometers (haversine). Accurate to GPS noise tolerance, not geodesic-exact.
func DistanceKm(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// HeadingDegrees returns the bearing from a to b in [0, 360), measured
// clockwise from north. Uses an equirectangular projection of the deltas,
// which is fine at the distances between consecutive GPS samples.
func HeadingDegrees(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon-a.Lon) * math.Cos(toRad((a.Lat+b.Lat)/2))

	deg := math.Atan2(dLon, dLat) * 180 / math.Pi
	return normalizeDegrees(deg)
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
