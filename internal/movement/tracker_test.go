package movement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telematics/avl-gateway/internal/repository"
	"github.com/telematics/avl-gateway/internal/repository/memrepo"
)

func newTestTracker(t *testing.T, store *memrepo.Store, deviceID string) *Tracker {
	t.Helper()
	store.Seed(deviceID)
	ref, err := store.LookupDevice(context.Background(), deviceID)
	require.NoError(t, err)
	return New(store, ref, DefaultOptions(), nil)
}

func movingRecord(ts time.Time, lat, lon float64) RecordInput {
	moving := true
	return RecordInput{Timestamp: ts, Latitude: lat, Longitude: lon, HasPosition: true, MovementFlag: &moving}
}

func stillRecord(ts time.Time, lat, lon float64) RecordInput {
	moving := false
	return RecordInput{Timestamp: ts, Latitude: lat, Longitude: lon, HasPosition: true, MovementFlag: &moving}
}

func TestTracker_WarmupThenOpensWalk(t *testing.T) {
	store := memrepo.New()
	tr := newTestTracker(t, store, "dev1")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lat, lon := 54.6872, 25.2797

	// Six records, one per minute: the sixth, at the 5-minute mark,
	// reaches the warmup threshold and should open the walk with all six
	// pending points.
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		err := tr.HandleRecord(ctx, movingRecord(ts, lat, lon))
		require.NoError(t, err)

		lat += 0.0001
		lon += 0.0001

		if i < 5 {
			assert.Equal(t, WarmingUp, tr.State(), "record %d", i)
		}
	}

	assert.Equal(t, Saving, tr.State())

	active, err := store.SnapshotActive(ctx, repository.DeviceRef{DeviceID: "dev1"})
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestTracker_NotMovingInWarmupDiscardsPending(t *testing.T) {
	store := memrepo.New()
	tr := newTestTracker(t, store, "dev1")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tr.HandleRecord(ctx, movingRecord(base, 1, 1)))
	assert.Equal(t, WarmingUp, tr.State())

	require.NoError(t, tr.HandleRecord(ctx, stillRecord(base.Add(time.Minute), 1, 1)))
	assert.Equal(t, Idle, tr.State())
	assert.Empty(t, tr.pendingPoints)
}

func TestTracker_IdleClosesWalk(t *testing.T) {
	store := memrepo.New()
	tr := newTestTracker(t, store, "dev1")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lat, lon := 54.6872, 25.2797

	var lastMovingTs time.Time
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, tr.HandleRecord(ctx, movingRecord(ts, lat, lon)))
		lastMovingTs = ts
		lat += 0.0001
	}
	require.Equal(t, Saving, tr.State())

	// Six more minutes of non-movement: should cross IDLE_MS (5 min) and
	// close the walk at the timestamp of the record that crosses it.
	var closeTs time.Time
	for i := 1; i <= 6; i++ {
		ts := lastMovingTs.Add(time.Duration(i) * time.Minute)
		require.NoError(t, tr.HandleRecord(ctx, stillRecord(ts, lat, lon)))
		if tr.State() == Idle {
			closeTs = ts
			break
		}
	}

	assert.Equal(t, Idle, tr.State())
	assert.False(t, closeTs.IsZero())

	active, err := store.SnapshotActive(ctx, repository.DeviceRef{DeviceID: "dev1"})
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestTracker_ZeroZeroCoordinateIgnored(t *testing.T) {
	store := memrepo.New()
	tr := newTestTracker(t, store, "dev1")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tr.HandleRecord(ctx, RecordInput{Timestamp: base, HasPosition: false}))
	assert.Equal(t, Idle, tr.State())
}

func TestTracker_SpeedThresholdInference(t *testing.T) {
	store := memrepo.New()
	tr := newTestTracker(t, store, "dev1")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fast := RecordInput{Timestamp: base, Latitude: 1, Longitude: 1, HasPosition: true, SpeedKmh: 10}
	require.NoError(t, tr.HandleRecord(ctx, fast))
	assert.Equal(t, WarmingUp, tr.State())
}

func TestTracker_FinalizeDuringWarmupDiscardsPending(t *testing.T) {
	store := memrepo.New()
	tr := newTestTracker(t, store, "dev1")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tr.HandleRecord(ctx, movingRecord(base, 1, 1)))
	require.Equal(t, WarmingUp, tr.State())

	require.NoError(t, tr.Finalize(ctx))
	assert.Equal(t, Idle, tr.State())
}

func TestTracker_FinalizeDuringSavingClosesWalk(t *testing.T) {
	store := memrepo.New()
	tr := newTestTracker(t, store, "dev1")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lat := 54.6872
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, tr.HandleRecord(ctx, movingRecord(ts, lat, 25.2797)))
		lat += 0.0001
	}
	require.Equal(t, Saving, tr.State())

	require.NoError(t, tr.Finalize(ctx))
	assert.Equal(t, Idle, tr.State())

	active, err := store.SnapshotActive(ctx, repository.DeviceRef{DeviceID: "dev1"})
	require.NoError(t, err)
	assert.Nil(t, active)
}
