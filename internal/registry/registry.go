// Package registry implements the Device Registry: the process-wide
// index of authenticated devices and their liveness stats. It replaces
// cmd/tcp-server/main.go's package-level `sessions map[string]*DeviceSession`
// plus `sessionsMu sync.RWMutex` with one owning component, holding
// plain data rather than a pointer back into the session that
// authenticated the device — the session signals closure through a
// CloseSignal closure captured at register time, never a pointer cycle.
package registry

import (
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyConnected is returned by Register when a device id already has
// an active entry. The policy is replace: signal the previous session
// to close, then proceed with the new registration.
// Register itself performs the signal-then-replace so this error is
// informational for logging, not a rejection.
type ErrAlreadyConnected struct {
	DeviceID string
}

func (e *ErrAlreadyConnected) Error() string {
	return "registry: device " + e.DeviceID + " already connected"
}

// CloseSignal is called by the registry to ask a registered session to
// close itself, e.g. because a reconnect replaced it. Implementations
// must not block.
type CloseSignal func()

// ActiveDevice is the record the registry stores per authenticated
// connection.
type ActiveDevice struct {
	DeviceID         string
	PeerAddress      string
	ConnectedAt      time.Time
	LastActivityAt   time.Time
	BytesReceived    uint64
	PacketsProcessed uint64

	token uuid.UUID
	close CloseSignal
}

// ActiveDeviceView is the copy-out projection returned by Snapshot, safe
// to hand to the Monitor without exposing the session token or the
// close signal.
type ActiveDeviceView struct {
	DeviceID         string
	PeerAddress      string
	ConnectedAt      time.Time
	LastActivityAt   time.Time
	BytesReceived    uint64
	PacketsProcessed uint64
}

// Registry is the concurrent-safe device index. Its critical sections
// are O(1) map operations.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*ActiveDevice
	log     *logrus.Entry
}

// New builds an empty Registry.
func New(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		devices: make(map[string]*ActiveDevice),
		log:     log.WithField("component", "registry"),
	}
}

// Register inserts deviceId with a fresh session token, signaling the
// previous session (if any) to close first. Returns the new token, which
// the caller must present to Unregister later.
func (r *Registry) Register(deviceID, peerAddress string, closeFn CloseSignal) (uuid.UUID, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return uuid.UUID{}, err
	}

	r.mu.Lock()
	prev, existed := r.devices[deviceID]
	if existed && prev.close != nil {
		prev.close()
	}
	now := time.Now()
	r.devices[deviceID] = &ActiveDevice{
		DeviceID:       deviceID,
		PeerAddress:    peerAddress,
		ConnectedAt:    now,
		LastActivityAt: now,
		token:          token,
		close:          closeFn,
	}
	r.mu.Unlock()

	if existed {
		r.log.WithFields(logrus.Fields{
			"deviceId": deviceID,
			"peer":     peerAddress,
		}).Info("replaced previously registered session")
		return token, &ErrAlreadyConnected{DeviceID: deviceID}
	}

	return token, nil
}

// Touch atomically updates liveness stats for deviceId. A no-op if the
// device isn't currently registered (e.g. it was just replaced).
func (r *Registry) Touch(deviceID string, bytes, packets uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	d.LastActivityAt = time.Now()
	d.BytesReceived += bytes
	d.PacketsProcessed += packets
}

// Snapshot copies out every active device view, for the Monitor.
func (r *Registry) Snapshot() []ActiveDeviceView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]ActiveDeviceView, 0, len(r.devices))
	for _, d := range r.devices {
		views = append(views, ActiveDeviceView{
			DeviceID:         d.DeviceID,
			PeerAddress:      d.PeerAddress,
			ConnectedAt:      d.ConnectedAt,
			LastActivityAt:   d.LastActivityAt,
			BytesReceived:    d.BytesReceived,
			PacketsProcessed: d.PacketsProcessed,
		})
	}
	return views
}

// Unregister removes deviceId, but only if its stored session token still
// matches, guarding the race where a reconnect has already replaced the
// entry by the time the old session gets around to tearing down.
func (r *Registry) Unregister(deviceID string, token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok || d.token != token {
		return
	}
	delete(r.devices, deviceID)
}

// Len reports the current number of registered devices, used by the
// Monitor's connections() count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// StaleSince returns the device ids whose LastActivityAt is older than
// threshold, for the Monitor's connections() issues list.
func (r *Registry) StaleSince(threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var stale []string
	for id, d := range r.devices {
		if now.Sub(d.LastActivityAt) > threshold {
			stale = append(stale, id)
		}
	}
	return stale
}
