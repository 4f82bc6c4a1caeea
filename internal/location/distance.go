// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import "math"

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371000.0

// DistanceMeters returns the great-circle distance between two coordinates using the
// haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	// Rounding can push h slightly outside [0,1] for antipodal or identical points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// DistanceTo returns the distance in meters between two samples.
func (s Sample) DistanceTo(other Sample) float64 {
	return DistanceMeters(s.Latitude, s.Longitude, other.Latitude, other.Longitude)
}
