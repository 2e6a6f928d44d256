// Package registry implements the connection registry: the fd/connection
// to client-identity mapping, the device-online invariant (I1), and the
// last-wins operator re-login policy. It is the only piece of
// cross-connection shared mutable state in the server besides the catalog,
// which carries its own lock; the registry takes that lock (through the
// catalog's methods) while holding its own when it moves a device online
// or offline.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/campushub/eqserver/internal/catalog"
	"github.com/campushub/eqserver/pkg/wire"
)

// Registry errors, checked with errors.Is at the dispatch/handler layer.
var (
	// ErrAlreadyBound indicates a second equipment_online for a device id
	// that already has a live connection (I1).
	ErrAlreadyBound = errors.New("registry: device already bound")

	// ErrUnknownDevice indicates a device id not present in the catalog.
	ErrUnknownDevice = errors.New("registry: unknown device")

	// ErrNotConnectable indicates a device's registration state forbids
	// connecting (registration == "unregistered").
	ErrNotConnectable = errors.New("registry: device not connectable")

	// ErrDeviceOffline indicates a forward target has no live connection.
	ErrDeviceOffline = errors.New("registry: device offline")

	// ErrConnNotFound indicates an operation referenced an unknown
	// connection id.
	ErrConnNotFound = errors.New("registry: connection not found")
)

// SendFunc writes a frame body to a connection.
type SendFunc func(body []byte) error

// CloseFunc closes a connection.
type CloseFunc func() error

// Identity is the bound identity of a connection, if any.
type Identity struct {
	ClientType wire.ClientType
	DeviceID   string // set for equipment connections
	UserID     string // set for operator connections
	Role       wire.Role
}

// Bound reports whether an identity has been bound yet.
func (id Identity) Bound() bool {
	return id.DeviceID != "" || id.UserID != ""
}

type connEntry struct {
	connID        string
	identity      Identity
	lastHeartbeat time.Time
	healthy       bool
	send          SendFunc
	close         CloseFunc
}

// SnapshotEntry is one row of Registry.Snapshot, consumed by the
// supervisor's timeout sweep.
type SnapshotEntry struct {
	ConnID        string
	Identity      Identity
	LastHeartbeat time.Time
}

// Registry maps connections to identities and performs the catalog
// online/offline transitions of bind and unbind under its own lock,
// together with its bookkeeping. Other catalog mutations (status updates,
// power, thresholds) go to the catalog directly.
type Registry struct {
	mu sync.RWMutex

	catalog *catalog.Catalog

	byConn   map[string]*connEntry
	byDevice map[string]string // device id -> conn id
	byUser   map[string]string // user id -> conn id
}

// New creates a registry backed by cat for device state transitions.
func New(cat *catalog.Catalog) *Registry {
	return &Registry{
		catalog:  cat,
		byConn:   make(map[string]*connEntry),
		byDevice: make(map[string]string),
		byUser:   make(map[string]string),
	}
}

// Accept registers a newly accepted connection with an unbound identity.
func (r *Registry) Accept(connID string, send SendFunc, close CloseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byConn[connID] = &connEntry{
		connID:        connID,
		lastHeartbeat: time.Now(),
		healthy:       true,
		send:          send,
		close:         close,
	}
}

// BindEquipment binds connID to deviceID as an equipment connection. It
// fails with ErrUnknownDevice, ErrNotConnectable, or ErrAlreadyBound
// without mutating any state; on success it marks the catalog entry
// online and stamps the heartbeat atomically with the mapping install
// (the ordering guarantee in §4.3).
func (r *Registry) BindEquipment(connID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return ErrConnNotFound
	}

	dev, ok := r.catalog.Get(deviceID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	if !dev.Registration.CanConnect() {
		return fmt.Errorf("%w: %q is %s", ErrNotConnectable, deviceID, dev.Registration)
	}
	if _, bound := r.byDevice[deviceID]; bound {
		return fmt.Errorf("%w: %q", ErrAlreadyBound, deviceID)
	}

	entry.identity = Identity{ClientType: wire.ClientTypeEquipment, DeviceID: deviceID}
	entry.lastHeartbeat = time.Now()
	r.byDevice[deviceID] = connID

	return r.catalog.SetOnline(deviceID)
}

// BindOperator binds connID to userID/role as an operator connection.
// Under the last-wins policy, any existing connection for userID is
// evicted: it is removed from the registry and its CloseFunc is returned
// uninvoked, so the caller can close it after the registry lock is
// released (to avoid invoking arbitrary I/O while holding it). No close
// reason is sent to the evicted connection.
func (r *Registry) BindOperator(connID, userID string, role wire.Role) (evicted CloseFunc, err error) {
	r.mu.Lock()

	entry, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrConnNotFound
	}

	var evictedClose CloseFunc
	if oldConnID, exists := r.byUser[userID]; exists && oldConnID != connID {
		if oldEntry, ok := r.byConn[oldConnID]; ok {
			evictedClose = oldEntry.close
			delete(r.byConn, oldConnID)
		}
	}

	entry.identity = Identity{ClientType: wire.ClientTypeOperator, UserID: userID, Role: role}
	entry.lastHeartbeat = time.Now()
	r.byUser[userID] = connID

	r.mu.Unlock()
	return evictedClose, nil
}

// Touch refreshes a connection's heartbeat timestamp to now (I4: any
// message received, not only explicit heartbeats, advances it).
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byConn[connID]; ok {
		entry.lastHeartbeat = time.Now()
	}
}

// Unbind removes every mapping for connID. If it was an equipment
// connection, the catalog entry transitions offline (I5).
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(connID)
}

func (r *Registry) unbindLocked(connID string) {
	entry, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)

	switch {
	case entry.identity.DeviceID != "":
		delete(r.byDevice, entry.identity.DeviceID)
		_ = r.catalog.SetOffline(entry.identity.DeviceID)
	case entry.identity.UserID != "":
		if r.byUser[entry.identity.UserID] == connID {
			delete(r.byUser, entry.identity.UserID)
		}
	}
}

// LookupByDevice returns the connection id bound to deviceID, if any.
func (r *Registry) LookupByDevice(deviceID string) (connID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok = r.byDevice[deviceID]
	return
}

// LookupIdentity returns the identity bound to connID, if any.
func (r *Registry) LookupIdentity(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byConn[connID]
	if !ok {
		return Identity{}, false
	}
	return entry.identity, true
}

// SendTo writes body to connID's connection. Returns ErrConnNotFound if
// the connection is no longer registered (e.g. closed concurrently).
func (r *Registry) SendTo(connID string, body []byte) error {
	r.mu.RLock()
	entry, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrConnNotFound
	}
	return entry.send(body)
}

// SendToDevice writes body to the connection currently bound to deviceID.
// Returns ErrDeviceOffline if no connection is bound.
func (r *Registry) SendToDevice(deviceID string, body []byte) error {
	connID, ok := r.LookupByDevice(deviceID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeviceOffline, deviceID)
	}
	return r.SendTo(connID, body)
}

// BroadcastToOperators writes body to every currently bound operator
// connection. Individual send failures are ignored by the broadcaster;
// the failing connection's own read loop will observe the error and
// unbind it.
func (r *Registry) BroadcastToOperators(body []byte) {
	r.mu.RLock()
	targets := make([]SendFunc, 0, len(r.byUser))
	for _, connID := range r.byUser {
		if entry, ok := r.byConn[connID]; ok {
			targets = append(targets, entry.send)
		}
	}
	r.mu.RUnlock()

	for _, send := range targets {
		_ = send(body)
	}
}

// Snapshot returns a point-in-time copy of every connection's identity and
// heartbeat, consumed by the supervisor's timeout sweep.
func (r *Registry) Snapshot() []SnapshotEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SnapshotEntry, 0, len(r.byConn))
	for id, entry := range r.byConn {
		out = append(out, SnapshotEntry{
			ConnID:        id,
			Identity:      entry.identity,
			LastHeartbeat: entry.lastHeartbeat,
		})
	}
	return out
}

// CloseAndUnbind closes connID's connection and removes it from the
// registry. Idempotent: calling it twice for the same connID is safe.
func (r *Registry) CloseAndUnbind(connID string) {
	r.mu.Lock()
	entry, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.unbindLocked(connID)
	r.mu.Unlock()

	if entry.close != nil {
		_ = entry.close()
	}
}
