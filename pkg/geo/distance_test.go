package geo

import (
	"math"
	"testing"
)

func TestDistanceKm_IdenticalPoints(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{40.4168, -3.7038},
		{-33.8688, 151.2093},
		{90, 180},
		{-90, -180},
	}

	for _, p := range points {
		if d := DistanceKm(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("DistanceKm(%v, %v) to itself = %v, want 0", p[0], p[1], d)
		}
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	pairs := [][4]float64{
		{40.4168, -3.7038, 41.3874, 2.1686},
		{37.3891, -5.9845, 43.2630, -2.9350},
		{28.1235, -15.4363, 42.8782, -8.5448},
		{89.9, 0, -89.9, 179.9},
		{0, -180, 0, 180},
	}

	for _, p := range pairs {
		ab := DistanceKm(p[0], p[1], p[2], p[3])
		ba := DistanceKm(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("DistanceKm not symmetric for %v: %v vs %v", p, ab, ba)
		}
	}
}

func TestDistanceKm_KnownCities(t *testing.T) {
	tests := []struct {
		name  string
		lat1  float64
		lon1  float64
		lat2  float64
		lon2  float64
		minKm float64
		maxKm float64
	}{
		{
			name: "Madrid to Barcelona",
			lat1: 40.4168, lon1: -3.7038,
			lat2: 41.3874, lon2: 2.1686,
			minKm: 480, maxKm: 520,
		},
		{
			name: "Madrid to Sevilla",
			lat1: 40.4168, lon1: -3.7038,
			lat2: 37.3891, lon2: -5.9845,
			minKm: 380, maxKm: 420,
		},
		{
			name: "Barcelona to A Coruna",
			lat1: 41.3874, lon1: 2.1686,
			lat2: 43.3623, lon2: -8.4115,
			minKm: 860, maxKm: 940,
		},
		{
			name: "Sevilla to Bilbao",
			lat1: 37.3891, lon1: -5.9845,
			lat2: 43.2630, lon2: -2.9350,
			minKm: 650, maxKm: 750,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DistanceKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				t.Fatalf("distance is not finite: %v", d)
			}
			if d < tt.minKm || d > tt.maxKm {
				t.Errorf("DistanceKm = %.1f, want between %.0f and %.0f", d, tt.minKm, tt.maxKm)
			}
		})
	}
}

func TestDistanceKm_Antipodal(t *testing.T) {
	d := DistanceKm(0, 0, 0, 180)
	want := math.Pi * EarthRadiusKm
	if math.IsNaN(d) || math.Abs(d-want) > 1e-6 {
		t.Errorf("antipodal distance = %v, want %v", d, want)
	}
}

func TestDistance_OrbPoints(t *testing.T) {
	madrid := Point(40.4168, -3.7038)
	barcelona := Point(41.3874, 2.1686)

	if madrid.Lat() != 40.4168 || madrid.Lon() != -3.7038 {
		t.Fatalf("Point stored lat/lon incorrectly: %v", madrid)
	}

	want := DistanceKm(40.4168, -3.7038, 41.3874, 2.1686)
	if got := Distance(madrid, barcelona); got != want {
		t.Errorf("Distance = %v, want %v", got, want)
	}
}

func TestValidLatLon(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.0001, 0, false},
		{-90.0001, 0, false},
		{0, 180.0001, false},
		{0, -180.0001, false},
		{math.NaN(), 0, false},
		{0, math.NaN(), false},
	}

	for _, tt := range tests {
		if got := ValidLatLon(tt.lat, tt.lon); got != tt.want {
			t.Errorf("ValidLatLon(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
		}
	}
}
