package geo

import (
	"math"

	"github.com/example/transit-dispatch/internal/models"
)

const earthRadiusM = 6371000.0

// Haversine great-circle distance in meters.
func Distance(a, b models.LatLng) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	sa := math.Sin(dLat / 2)
	sb := math.Sin(dLng / 2)
	h := sa*sa + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*sb*sb
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// ETAMinutes converts a distance into whole minutes of travel. Speed is
// floored at 1 km/h so a stationary vehicle never divides to infinity.
func ETAMinutes(distanceM, speedKmh float64) int {
	speedMps := math.Max(1, speedKmh*1000/3600)
	m := math.Round(distanceM / speedMps / 60)
	if m < 0 {
		return 0
	}
	return int(m)
}

// NearestIndex returns the index of the point closest to (lat,lng) by squared
// planar distance. Routes here span a few km, so treating degrees as
// Euclidean is fine. Ties resolve to the lowest index.
func NearestIndex(points []models.LatLng, lat, lng float64) int {
	idx := 0
	best := math.Inf(1)
	for i, p := range points {
		d := (p.Lat-lat)*(p.Lat-lat) + (p.Lng-lng)*(p.Lng-lng)
		if d < best {
			best = d
			idx = i
		}
	}
	return idx
}

// maxAlongM bounds DistanceAlong accumulation so a malformed index pair can
// never loop forever.
const maxAlongM = 1e7

// DistanceAlong sums haversine distance walking forward (circularly) from
// fromIdx to toIdx.
func DistanceAlong(points []models.LatLng, fromIdx, toIdx int) float64 {
	if len(points) == 0 {
		return 0
	}
	fromIdx = ((fromIdx % len(points)) + len(points)) % len(points)
	toIdx = ((toIdx % len(points)) + len(points)) % len(points)
	sum := 0.0
	i := fromIdx
	for i != toIdx {
		a := points[i%len(points)]
		b := points[(i+1)%len(points)]
		sum += Distance(a, b)
		i = (i + 1) % len(points)
		if sum > maxAlongM {
			break
		}
	}
	return sum
}
