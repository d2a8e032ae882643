package geo

import (
	"math"
	"time"
)

const earthRadiusM = 6371000.0

// MpsToKmh converts metres per second to kilometres per hour.
const MpsToKmh = 3.6

// Sample is one GPS fix as reported by a member device. At is the device
// clock reading for the fix, zero when the device did not supply one.
type Sample struct {
	Latitude  float64
	Longitude float64
	Heading   float64
	Speed     float64
	At        time.Time
}

// HaversineM returns the great-circle distance in metres between two points.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// KmhFromMps converts a speed and rounds it to the nearest whole km/h.
func KmhFromMps(mps float64) int {
	return int(math.Round(mps * MpsToKmh))
}

// ValidCoordinate reports whether lat/lng are finite and inside WGS84 bounds.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
