// Package movement implements the Movement Tracker: a per-device state
// machine that turns a stream of positioned records into opened,
// extended, and closed walk sessions in the Repository Port.
//
// Built fresh, in the rest of the gateway's idiom: small sentinel-typed
// state, explicit transitions, a single owning goroutine per device (the
// session that calls it), structured logging via sirupsen/logrus
// matching every other component.
package movement

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/telematics/avl-gateway/internal/repository"
)

// State is one of the three states in the movement transition table.
type State int

const (
	Idle State = iota
	WarmingUp
	Saving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WarmingUp:
		return "warming_up"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// Options carries the tracker's three configurable thresholds.
type Options struct {
	WarmupMs          time.Duration
	IdleMs            time.Duration
	SpeedThresholdKmh float64
}

// DefaultOptions returns the gateway's defaults: 5 minute warmup, 5
// minute idle, 3 km/h speed threshold.
func DefaultOptions() Options {
	return Options{
		WarmupMs:          5 * time.Minute,
		IdleMs:            5 * time.Minute,
		SpeedThresholdKmh: 3,
	}
}

// RecordInput is the subset of a decoded record the tracker needs,
// decoupled from internal/avl.Record so this package doesn't import the
// wire codec.
type RecordInput struct {
	Timestamp     time.Time
	Latitude      float64
	Longitude     float64
	HasPosition   bool
	MovementFlag  *bool
	SpeedKmh      float64
}

// Tracker holds the per-device movement state. It is not safe for
// concurrent use by design: ownership is serialized by the session that
// owns the device.
type Tracker struct {
	repo   repository.Port
	ref    repository.DeviceRef
	opts   Options
	log    *logrus.Entry

	state           State
	movementStartTs time.Time
	lastPointTs     time.Time
	idleAccum       time.Duration
	pendingPoints   []repository.Point
	activeWalk      *repository.WalkHandle
}

// New builds a Tracker for one device, initially Idle with no pending
// points.
func New(repo repository.Port, ref repository.DeviceRef, opts Options, log *logrus.Logger) *Tracker {
	if log == nil {
		log = logrus.New()
	}
	return &Tracker{
		repo: repo,
		ref:  ref,
		opts: opts,
		log:  log.WithField("component", "movement").WithField("deviceId", ref.DeviceID),
		state: Idle,
	}
}

// State returns the tracker's current state, mainly for tests and
// diagnostics.
func (t *Tracker) State() State { return t.state }

// isMoving applies the priority order: explicit movementFlag if
// present, else speed over the threshold, else non-moving.
func (t *Tracker) isMoving(r RecordInput) bool {
	if r.MovementFlag != nil {
		return *r.MovementFlag
	}
	return r.SpeedKmh > t.opts.SpeedThresholdKmh
}

// HandleRecord applies one authenticated record to the state machine.
// Records without a valid position are ignored entirely: they neither
// drive transitions nor ever appear in a walk's coordinates.
func (t *Tracker) HandleRecord(ctx context.Context, r RecordInput) error {
	if !r.HasPosition {
		return nil
	}

	moving := t.isMoving(r)
	point := repository.Point{Latitude: r.Latitude, Longitude: r.Longitude, Timestamp: r.Timestamp}

	switch t.state {
	case Idle:
		if moving {
			t.movementStartTs = r.Timestamp
			t.pendingPoints = append(t.pendingPoints, point)
			t.state = WarmingUp
		} else {
			t.idleAccum = 0
		}

	case WarmingUp:
		if moving {
			t.pendingPoints = append(t.pendingPoints, point)
			if r.Timestamp.Sub(t.movementStartTs) >= t.opts.WarmupMs {
				handle, err := t.repo.OpenWalk(ctx, t.ref, t.pendingPoints)
				if err != nil {
					return err
				}
				t.activeWalk = &handle
				t.pendingPoints = nil
				t.state = Saving
				t.log.WithField("walkId", handle.ID).Info("opened walk after warmup threshold")
			}
		} else {
			t.pendingPoints = nil
			t.movementStartTs = time.Time{}
			t.state = Idle
		}

	case Saving:
		if moving {
			if _, err := t.repo.ExtendWalk(ctx, *t.activeWalk, point); err != nil {
				return err
			}
			t.idleAccum = 0
		} else {
			if !t.lastPointTs.IsZero() {
				t.idleAccum += r.Timestamp.Sub(t.lastPointTs)
			}
			if t.idleAccum >= t.opts.IdleMs {
				if err := t.repo.CloseWalk(ctx, *t.activeWalk, r.Timestamp); err != nil {
					return err
				}
				t.log.WithField("walkId", t.activeWalk.ID).Info("closed walk after idle threshold")
				t.activeWalk = nil
				t.idleAccum = 0
				t.state = Idle
			}
		}
	}

	t.lastPointTs = r.Timestamp
	return nil
}

// Finalize runs on session teardown, regardless of
// whether the socket is already dead: a walk in Saving is closed with
// endTime = the last seen point timestamp; pending points in WarmingUp
// are discarded without opening a walk.
func (t *Tracker) Finalize(ctx context.Context) error {
	switch t.state {
	case Saving:
		if t.activeWalk == nil {
			t.state = Idle
			return nil
		}
		err := t.repo.CloseWalk(ctx, *t.activeWalk, t.lastPointTs)
		t.activeWalk = nil
		t.state = Idle
		return err
	case WarmingUp:
		t.pendingPoints = nil
		t.state = Idle
		return nil
	default:
		return nil
	}
}
