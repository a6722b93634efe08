// Package geo holds the spherical distance math and PostGIS encoding helpers
// for provider locations.
package geo

import (
	"math"

	"github.com/sells-group/price-discovery/internal/model"
)

// EarthRadiusMeters is the mean Earth radius PostGIS uses for geography
// distance on a sphere.
const EarthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b model.Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether p lies within radius meters of center.
func Within(center, p model.Point, radius float64) bool {
	return DistanceMeters(center, p) <= radius
}

// ValidPoint reports whether p is a usable WGS84 coordinate.
func ValidPoint(p model.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
