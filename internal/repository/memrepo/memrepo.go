// Package memrepo is an in-memory Repository Port adapter: the
// default store for tests and for STORE_URI=memory://. Devices must be
// pre-seeded (Seed) before a connection will authenticate against them,
// mirroring a production store's "device exists before it connects"
// precondition.
package memrepo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/telematics/avl-gateway/internal/repository"
)

const earthRadiusMeters = 6371008.8

type walk struct {
	handle      repository.WalkHandle
	isActive    bool
	startTime   time.Time
	endTime     time.Time
	coordinates []repository.Point
}

// Store is an in-memory Port implementation. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	devices map[string]bool
	records map[string][]repository.NormalizedRecord
	walks   map[string]*walk // keyed by walk handle id
	active  map[string]*walk // keyed by device id, only while isActive
}

// New builds an empty Store. Call Seed to register known devices.
func New() *Store {
	return &Store{
		devices: make(map[string]bool),
		records: make(map[string][]repository.NormalizedRecord),
		walks:   make(map[string]*walk),
		active:  make(map[string]*walk),
	}
}

// Seed registers a device id as a known Device entity, as if it had been
// provisioned out-of-band before the device ever connects.
func (s *Store) Seed(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID] = true
}

func (s *Store) LookupDevice(_ context.Context, deviceID string) (repository.DeviceRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.devices[deviceID] {
		return repository.DeviceRef{}, repository.ErrNotFound
	}
	return repository.DeviceRef{DeviceID: deviceID}, nil
}

func (s *Store) AppendRecord(_ context.Context, ref repository.DeviceRef, rec repository.NormalizedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ref.DeviceID] = append(s.records[ref.DeviceID], rec)
	return nil
}

func (s *Store) OpenWalk(_ context.Context, ref repository.DeviceRef, initial []repository.Point) (repository.WalkHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := uuid.NewV4()
	if err != nil {
		return repository.WalkHandle{}, err
	}
	handle := repository.WalkHandle{ID: id.String(), DeviceID: ref.DeviceID}

	var start time.Time
	if len(initial) > 0 {
		start = initial[0].Timestamp
	} else {
		start = time.Now()
	}

	if prior, ok := s.active[ref.DeviceID]; ok && prior.isActive {
		prior.isActive = false
		prior.endTime = start
	}

	w := &walk{
		handle:      handle,
		isActive:    true,
		startTime:   start,
		coordinates: append([]repository.Point{}, initial...),
	}
	s.walks[handle.ID] = w
	s.active[ref.DeviceID] = w

	return handle, nil
}

func (s *Store) ExtendWalk(_ context.Context, handle repository.WalkHandle, p repository.Point) (repository.WalkStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.walks[handle.ID]
	if !ok || !w.isActive {
		return repository.WalkStats{}, repository.ErrNoActiveWalk
	}
	w.coordinates = append(w.coordinates, p)

	return walkStats(w), nil
}

func (s *Store) CloseWalk(_ context.Context, handle repository.WalkHandle, endTs time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.walks[handle.ID]
	if !ok || !w.isActive {
		return repository.ErrNoActiveWalk
	}
	w.isActive = false
	w.endTime = endTs
	if s.active[handle.DeviceID] == w {
		delete(s.active, handle.DeviceID)
	}
	return nil
}

func (s *Store) SnapshotActive(_ context.Context, ref repository.DeviceRef) (*repository.WalkHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.active[ref.DeviceID]
	if !ok {
		return nil, nil
	}
	h := w.handle
	return &h, nil
}

func walkStats(w *walk) repository.WalkStats {
	dist := 0.0
	for i := 1; i < len(w.coordinates); i++ {
		dist += haversine(w.coordinates[i-1], w.coordinates[i])
	}

	duration := 0
	if len(w.coordinates) > 0 {
		last := w.coordinates[len(w.coordinates)-1]
		duration = int(last.Timestamp.Sub(w.startTime).Seconds())
	}

	return repository.WalkStats{
		DistanceMeters:  int(math.Round(dist)),
		DurationSeconds: duration,
		PointCount:      len(w.coordinates),
	}
}

// haversine returns the great-circle distance between a and b in meters,
// using Earth radius 6371008.8 m.
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
