// Package geo provides great-circle distance utilities for WGS84 coordinates.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// DistanceKm calculates the great-circle distance between two points in
// kilometers using the Haversine formula. Inputs are in degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLat := toRadians(lat2 - lat1)
	deltaLon := toRadians(lon2 - lon1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	// Rounding can push a a hair above 1 for antipodal points.
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Distance returns the great-circle distance in kilometers between two orb
// points. orb points are stored as [lon, lat].
func Distance(a, b orb.Point) float64 {
	return DistanceKm(a.Lat(), a.Lon(), b.Lat(), b.Lon())
}

// ValidLatLon reports whether lat and lon are finite and within WGS84 bounds.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Point builds an orb.Point from latitude and longitude.
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
