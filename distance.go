package castrilha

import "math"

const earthRadiusM = 6_371_000.0

// TriggerDistanceMeters is the proximity at which the engine announces the
// upcoming step. It is fixed and does not adapt to speed or GPS accuracy.
const TriggerDistanceMeters = 50.0

// HaversineDistance calculates the distance in meters between two
// geographic coordinates using the Haversine formula.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	// Convert degrees to radians
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(p1, p2 LatLng) float64 {
	return HaversineDistance(p1.Lat, p1.Lng, p2.Lat, p2.Lng)
}

// WithinTrigger returns true if pos is strictly closer than the trigger
// distance to target.
func WithinTrigger(pos, target LatLng) bool {
	return DistanceMeters(pos, target) < TriggerDistanceMeters
}
