package memrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telematics/avl-gateway/internal/repository"
)

func TestLookupDevice_NotFoundUntilSeeded(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.LookupDevice(ctx, "353691841005134")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	s.Seed("353691841005134")
	ref, err := s.LookupDevice(ctx, "353691841005134")
	require.NoError(t, err)
	assert.Equal(t, "353691841005134", ref.DeviceID)
}

func TestWalkLifecycle_DistanceAndDuration(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Seed("dev1")
	ref, _ := s.LookupDevice(ctx, "dev1")

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	initial := []repository.Point{
		{Latitude: 54.6872, Longitude: 25.2797, Timestamp: base},
	}

	handle, err := s.OpenWalk(ctx, ref, initial)
	require.NoError(t, err)
	assert.Equal(t, "dev1", handle.DeviceID)

	active, err := s.SnapshotActive(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, handle.ID, active.ID)

	stats, err := s.ExtendWalk(ctx, handle, repository.Point{
		Latitude: 54.6880, Longitude: 25.2810, Timestamp: base.Add(60 * time.Second),
	})
	require.NoError(t, err)
	assert.Greater(t, stats.DistanceMeters, 0)
	assert.Equal(t, 60, stats.DurationSeconds)
	assert.Equal(t, 2, stats.PointCount)

	err = s.CloseWalk(ctx, handle, base.Add(120*time.Second))
	require.NoError(t, err)

	active, err = s.SnapshotActive(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = s.ExtendWalk(ctx, handle, repository.Point{Latitude: 1, Longitude: 1, Timestamp: base})
	assert.ErrorIs(t, err, repository.ErrNoActiveWalk)
}

func TestOpenWalk_ReplacesPriorActiveForSameDevice(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Seed("dev1")
	ref, _ := s.LookupDevice(ctx, "dev1")

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h1, err := s.OpenWalk(ctx, ref, []repository.Point{{Latitude: 1, Longitude: 1, Timestamp: base}})
	require.NoError(t, err)

	h2, err := s.OpenWalk(ctx, ref, []repository.Point{{Latitude: 2, Longitude: 2, Timestamp: base}})
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID)

	active, err := s.SnapshotActive(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, h2.ID, active.ID)

	_, err = s.ExtendWalk(ctx, h1, repository.Point{Latitude: 3, Longitude: 3, Timestamp: base})
	assert.ErrorIs(t, err, repository.ErrNoActiveWalk, "opening h2 must close h1, not just replace the active pointer")
}
