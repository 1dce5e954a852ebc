package redisrepo

import (
	"math"

	"github.com/telematics/avl-gateway/internal/repository"
)

const earthRadiusMeters = 6371008.8

// haversine returns the great-circle distance between a and b in meters
//, mirroring memrepo's identical helper — kept local
// rather than shared so each adapter's storage format stays self
// contained.
func haversine(a, b repository.Point) float64 {
	lat1, lat2 := deg2rad(a.Latitude), deg2rad(b.Latitude)
	dLat := deg2rad(b.Latitude - a.Latitude)
	dLon := deg2rad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func round(f float64) int { return int(math.Round(f)) }
