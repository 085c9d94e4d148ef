package core

import (
	"math"

	"github.com/signalsfoundry/safespaces/model"
)

// EarthRadiusMetres is the mean Earth radius used for great-circle
// distances between fixes and zone centres.
const EarthRadiusMetres = 6371008.8

// DistanceMetres returns the great-circle (haversine) distance between two
// WGS84 coordinates, in metres.
func DistanceMetres(a, b model.Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Rounding can push h marginally past 1 for antipodal points.
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMetres * math.Asin(math.Sqrt(h))
}

// Classify maps a distance to a zone centre onto a membership state.
// A distance exactly on the boundary is a dead zone and reports ok=false.
func Classify(distance, radius float64) (state model.MembershipState, ok bool) {
	switch {
	case distance < radius:
		return model.StateInside, true
	case distance > radius:
		return model.StateOutside, true
	default:
		return model.StateUnknown, false
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
