package redisrepo

import (
	"bytes"
	"encoding/gob"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telematics/avl-gateway/internal/repository"
)

// These cover the pieces that don't require a live Redis connection;
// the request/response plumbing itself is not exercised by any test in
// this package.

func TestStoredWalk_GobRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := storedWalk{
		HandleID:  "abc",
		DeviceID:  "353691841005134",
		IsActive:  true,
		StartTime: base,
		Coordinates: []repository.Point{
			{Latitude: 54.6872, Longitude: 25.2797, Timestamp: base},
			{Latitude: 54.6880, Longitude: 25.2810, Timestamp: base.Add(time.Minute)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(w))

	var decoded storedWalk
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	assert.Equal(t, w.HandleID, decoded.HandleID)
	assert.Equal(t, w.DeviceID, decoded.DeviceID)
	assert.True(t, decoded.StartTime.Equal(w.StartTime))
	require.Len(t, decoded.Coordinates, 2)
	assert.Equal(t, w.Coordinates[1].Latitude, decoded.Coordinates[1].Latitude)
}

func TestHaversine_ZeroDistanceForSamePoint(t *testing.T) {
	p := repository.Point{Latitude: 54.6872, Longitude: 25.2797}
	assert.Equal(t, 0.0, haversine(p, p))
}

func TestHaversine_KnownDistance(t *testing.T) {
	// Vilnius city-center-ish points roughly 100m apart.
	a := repository.Point{Latitude: 54.6872, Longitude: 25.2797}
	b := repository.Point{Latitude: 54.6880, Longitude: 25.2810}
	d := haversine(a, b)
	assert.InDelta(t, 110, d, 40)
}

func TestStats_DistanceAndDuration(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &storedWalk{
		StartTime: base,
		Coordinates: []repository.Point{
			{Latitude: 54.6872, Longitude: 25.2797, Timestamp: base},
			{Latitude: 54.6880, Longitude: 25.2810, Timestamp: base.Add(60 * time.Second)},
		},
	}

	s := stats(w)
	assert.Equal(t, 60, s.DurationSeconds)
	assert.Equal(t, 2, s.PointCount)
	assert.Greater(t, s.DistanceMeters, 0)
}
