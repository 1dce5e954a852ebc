// Package redisrepo is a Redis-backed Repository Port adapter,
// selected when STORE_URI uses the redis:// scheme. Grounded on
// chirpstack-network-server's internal/storage/device_session.go: the
// same key-template-plus-gob-encoding shape, gomodule/redigo connection
// pool, and github.com/pkg/errors wrapping, minus the protobuf envelope
// (there is no existing .proto for this domain, so values gob-encode
// directly, matching chirpstack's own gob fallback path).
package redisrepo

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/telematics/avl-gateway/internal/repository"
)

const (
	deviceKeyTempl     = "avlgw:device:%s"      // existence marker for a known device id
	walkKeyTempl       = "avlgw:walk:%s"        // serialized walk, by handle id
	activeWalkKeyTempl = "avlgw:device:%s:walk" // active walk handle id, by device id

	walkTTL = 30 * 24 * time.Hour
)

type storedWalk struct {
	HandleID    string
	DeviceID    string
	IsActive    bool
	StartTime   time.Time
	EndTime     time.Time
	Coordinates []repository.Point
}

// Store is a Redis-backed Port implementation.
type Store struct {
	pool *redis.Pool
	log  *logrus.Entry
}

// New wraps an existing redigo pool. The caller owns the pool's
// lifecycle (created from STORE_URI by cmd/gateway's buildRepository).
func New(pool *redis.Pool, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{pool: pool, log: log.WithField("component", "redisrepo")}
}

// Seed marks deviceId as a known Device entity, the same precondition
// memrepo.Seed establishes for tests.
func (s *Store) Seed(ctx context.Context, deviceID string) error {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "get connection")
	}
	defer c.Close()

	_, err = c.Do("SET", fmt.Sprintf(deviceKeyTempl, deviceID), "1")
	return errors.Wrap(err, "set error")
}

func (s *Store) LookupDevice(ctx context.Context, deviceID string) (repository.DeviceRef, error) {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return repository.DeviceRef{}, errors.Wrap(err, "get connection")
	}
	defer c.Close()

	exists, err := redis.Bool(c.Do("EXISTS", fmt.Sprintf(deviceKeyTempl, deviceID)))
	if err != nil {
		return repository.DeviceRef{}, errors.Wrap(err, "exists error")
	}
	if !exists {
		return repository.DeviceRef{}, repository.ErrNotFound
	}
	return repository.DeviceRef{DeviceID: deviceID}, nil
}

func (s *Store) AppendRecord(ctx context.Context, ref repository.DeviceRef, rec repository.NormalizedRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return errors.Wrap(err, "gob encode error")
	}

	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "get connection")
	}
	defer c.Close()

	key := fmt.Sprintf("avlgw:device:%s:records", ref.DeviceID)
	_, err = c.Do("RPUSH", key, buf.Bytes())
	return errors.Wrap(err, "rpush error")
}

func (s *Store) OpenWalk(ctx context.Context, ref repository.DeviceRef, initial []repository.Point) (repository.WalkHandle, error) {
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

	if err := s.closeActiveIfAny(ctx, ref.DeviceID, start); err != nil {
		return repository.WalkHandle{}, err
	}

	w := storedWalk{
		HandleID:    handle.ID,
		DeviceID:    ref.DeviceID,
		IsActive:    true,
		StartTime:   start,
		Coordinates: append([]repository.Point{}, initial...),
	}

	if err := s.save(ctx, w); err != nil {
		return repository.WalkHandle{}, err
	}

	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return repository.WalkHandle{}, errors.Wrap(err, "get connection")
	}
	defer c.Close()

	exp := int64(walkTTL / time.Millisecond)
	if _, err := c.Do("PSETEX", fmt.Sprintf(activeWalkKeyTempl, ref.DeviceID), exp, handle.ID); err != nil {
		return repository.WalkHandle{}, errors.Wrap(err, "psetex active-walk pointer")
	}

	return handle, nil
}

// closeActiveIfAny closes whatever walk is currently marked active for
// deviceID, if any, so OpenWalk never leaves more than one active walk
// per device — mirrors the reconnect boundary case where an old session
// is still registered when a new one authenticates.
func (s *Store) closeActiveIfAny(ctx context.Context, deviceID string, endTs time.Time) error {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "get connection")
	}
	priorID, err := redis.String(c.Do("GET", fmt.Sprintf(activeWalkKeyTempl, deviceID)))
	c.Close()
	if err != nil {
		if err == redis.ErrNil {
			return nil
		}
		return errors.Wrap(err, "get active-walk pointer")
	}

	prior, err := s.load(ctx, priorID)
	if err != nil {
		if err == repository.ErrNoActiveWalk {
			return nil
		}
		return err
	}
	if !prior.IsActive {
		return nil
	}

	prior.IsActive = false
	prior.EndTime = endTs
	if err := s.save(ctx, *prior); err != nil {
		return err
	}

	c, err = s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "get connection")
	}
	defer c.Close()
	_, err = c.Do("DEL", fmt.Sprintf(activeWalkKeyTempl, deviceID))
	return errors.Wrap(err, "del active-walk pointer")
}

func (s *Store) ExtendWalk(ctx context.Context, handle repository.WalkHandle, p repository.Point) (repository.WalkStats, error) {
	w, err := s.load(ctx, handle.ID)
	if err != nil {
		return repository.WalkStats{}, err
	}
	if !w.IsActive {
		return repository.WalkStats{}, repository.ErrNoActiveWalk
	}

	w.Coordinates = append(w.Coordinates, p)
	if err := s.save(ctx, *w); err != nil {
		return repository.WalkStats{}, err
	}

	return stats(w), nil
}

func (s *Store) CloseWalk(ctx context.Context, handle repository.WalkHandle, endTs time.Time) error {
	w, err := s.load(ctx, handle.ID)
	if err != nil {
		return err
	}
	if !w.IsActive {
		return repository.ErrNoActiveWalk
	}

	w.IsActive = false
	w.EndTime = endTs
	if err := s.save(ctx, *w); err != nil {
		return err
	}

	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "get connection")
	}
	defer c.Close()

	_, err = c.Do("DEL", fmt.Sprintf(activeWalkKeyTempl, handle.DeviceID))
	return errors.Wrap(err, "del active-walk pointer")
}

func (s *Store) SnapshotActive(ctx context.Context, ref repository.DeviceRef) (*repository.WalkHandle, error) {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get connection")
	}
	defer c.Close()

	id, err := redis.String(c.Do("GET", fmt.Sprintf(activeWalkKeyTempl, ref.DeviceID)))
	if err != nil {
		if err == redis.ErrNil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get error")
	}

	return &repository.WalkHandle{ID: id, DeviceID: ref.DeviceID}, nil
}

func (s *Store) save(ctx context.Context, w storedWalk) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return errors.Wrap(err, "gob encode error")
	}

	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "get connection")
	}
	defer c.Close()

	exp := int64(walkTTL / time.Millisecond)
	_, err = c.Do("PSETEX", fmt.Sprintf(walkKeyTempl, w.HandleID), exp, buf.Bytes())
	return errors.Wrap(err, "psetex error")
}

func (s *Store) load(ctx context.Context, handleID string) (*storedWalk, error) {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get connection")
	}
	defer c.Close()

	val, err := redis.Bytes(c.Do("GET", fmt.Sprintf(walkKeyTempl, handleID)))
	if err != nil {
		if err == redis.ErrNil {
			return nil, repository.ErrNoActiveWalk
		}
		return nil, errors.Wrap(err, "get error")
	}

	var w storedWalk
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&w); err != nil {
		return nil, errors.Wrap(err, "gob decode error")
	}
	return &w, nil
}

func stats(w *storedWalk) repository.WalkStats {
	dist := 0.0
	for i := 1; i < len(w.Coordinates); i++ {
		dist += haversine(w.Coordinates[i-1], w.Coordinates[i])
	}

	duration := 0
	if len(w.Coordinates) > 0 {
		last := w.Coordinates[len(w.Coordinates)-1]
		duration = int(last.Timestamp.Sub(w.StartTime).Seconds())
	}

	return repository.WalkStats{
		DistanceMeters:  round(dist),
		DurationSeconds: duration,
		PointCount:      len(w.Coordinates),
	}
}
