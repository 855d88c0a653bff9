package geo

import (
	"math"
	"testing"
)

func TestDistanceKmKnownPair(t *testing.T) {
	// Moratuwa depot to a stop on the Galle Road corridor.
	a := Point{Lat: 6.7132, Lon: 79.9033}
	b := Point{Lat: 6.7145, Lon: 79.9150}

	d := DistanceKm(a, b)
	if d < 1.25 || d > 1.45 {
		t.Fatalf("expected ~1.3 km, got %f", d)
	}
}

func TestDistanceKmSymmetry(t *testing.T) {
	pairs := []struct {
		a, b Point
	}{
		{Point{6.9271, 79.8612}, Point{7.2906, 80.6337}},
		{Point{-33.8688, 151.2093}, Point{51.5074, -0.1278}},
		{Point{0, 0}, Point{0, 180}},
		{Point{89.9, 10}, Point{-89.9, -170}},
	}

	for _, p := range pairs {
		ab := DistanceKm(p.a, p.b)
		ba := DistanceKm(p.b, p.a)
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("distance not symmetric: %f vs %f for %+v", ab, ba, p)
		}
	}
}

func TestDistanceKmZero(t *testing.T) {
	p := Point{Lat: 6.9271, Lon: 79.8612}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("expected zero distance, got %f", d)
	}
}

func TestDistanceKmNaNPropagates(t *testing.T) {
	d := DistanceKm(Point{Lat: math.NaN(), Lon: 0}, Point{Lat: 0, Lon: 0})
	if !math.IsNaN(d) {
		t.Fatalf("expected NaN, got %f", d)
	}
}

func TestHeadingDegreesCardinal(t *testing.T) {
	origin := Point{Lat: 6.9, Lon: 79.9}
	tests := []struct {
		name   string
		target Point
		want   float64
	}{
		{"north", Point{Lat: 7.0, Lon: 79.9}, 0},
		{"east", Point{Lat: 6.9, Lon: 80.0}, 90},
		{"south", Point{Lat: 6.8, Lon: 79.9}, 180},
		{"west", Point{Lat: 6.9, Lon: 79.8}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HeadingDegrees(origin, tt.target)
			if math.Abs(got-tt.want) > 1.0 {
				t.Errorf("expected ~%f, got %f", tt.want, got)
			}
		})
	}
}

func TestHeadingDegreesRange(t *testing.T) {
	origin := Point{Lat: 6.9, Lon: 79.9}
	for deg := 0; deg < 360; deg += 15 {
		rad := float64(deg) * math.Pi / 180
		target := Point{
			Lat: origin.Lat + 0.01*math.Cos(rad),
			Lon: origin.Lon + 0.01*math.Sin(rad),
		}
		h := HeadingDegrees(origin, target)
		if h < 0 || h >= 360 {
			t.Fatalf("heading %f out of [0,360) for input angle %d", h, deg)
		}
	}
}
