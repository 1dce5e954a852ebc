// Package repository defines the Repository Port: the external
// contract through which the Connection Session and Movement Tracker
// persist devices, records, and walk sessions, without either reaching
// into a concrete store's schema. Concrete adapters live in the memrepo
// and redisrepo subpackages.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by LookupDevice when deviceId has no matching
// Device entity — the device must exist in the store before it connects.
var ErrNotFound = errors.New("repository: device not found")

// ErrNoActiveWalk is returned by ExtendWalk/CloseWalk when the supplied
// handle no longer refers to an open walk.
var ErrNoActiveWalk = errors.New("repository: no active walk for handle")

// DeviceRef identifies a Device entity inside the store, opaque to
// callers beyond equality and the device id it wraps.
type DeviceRef struct {
	DeviceID string
}

// WalkHandle identifies one open (or just-closed) walk session.
type WalkHandle struct {
	ID       string
	DeviceID string
}

// Point is one coordinate sample contributed to a walk.
type Point struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// NormalizedRecord is the store-facing shape of a decoded AVL record,
// stripped of wire-specific types (internal/avl.Record) so the
// Repository Port doesn't depend on the codec package.
type NormalizedRecord struct {
	DeviceID    string
	Timestamp   time.Time
	Latitude    float64
	Longitude   float64
	SpeedKmh    float64
	HasPosition bool
	ExtraIO     map[uint16]uint64
}

// WalkStats is the recomputed aggregate state returned after extending
// or closing a walk.
type WalkStats struct {
	DistanceMeters  int
	DurationSeconds int
	PointCount      int
}

// Port is the full store contract. Every call may fail with a transient
// error; bounded retry is the caller's responsibility.
type Port interface {
	LookupDevice(ctx context.Context, deviceID string) (DeviceRef, error)
	AppendRecord(ctx context.Context, ref DeviceRef, rec NormalizedRecord) error
	OpenWalk(ctx context.Context, ref DeviceRef, initial []Point) (WalkHandle, error)
	ExtendWalk(ctx context.Context, handle WalkHandle, p Point) (WalkStats, error)
	CloseWalk(ctx context.Context, handle WalkHandle, endTs time.Time) error
	SnapshotActive(ctx context.Context, ref DeviceRef) (*WalkHandle, error)
}
