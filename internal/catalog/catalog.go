// Package catalog holds the in-memory roster of equipment and their live
// status, loaded from the store at startup and mutated in lockstep with
// the persisted row, per I5. Every access is serialized by the Catalog's
// own lock (§5).
package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/pkg/wire"
)

// Device is the catalog's in-memory view of one equipment row. The
// registry never holds a pointer to a Device; it resolves by id through
// the catalog so the catalog remains the single owner (§9 Design Notes).
type Device struct {
	ID             string
	Type           string
	Location       string
	PlaceID        string
	Registration   wire.RegistrationState
	Status         wire.DeviceStatus
	Power          wire.PowerState
	ThresholdWatts float64
	HasThreshold   bool
}

// Catalog is the device roster. It carries its own lock so that every
// read and write — whether reached through the registry (itself holding
// reg.mu while it calls SetOnline/SetOffline) or directly from a handler
// or the supervisor — is serialized, per §5's "the catalog uses the same
// lock" and its ban on a torn status/power read. Catalog never calls back
// into the registry, so nesting reg.mu outside c.mu introduces no lock
// ordering cycle.
type Catalog struct {
	mu      sync.RWMutex
	store   *store.Store
	devices map[string]*Device
}

// Load builds a Catalog from the store's current equipment roster.
func Load(s *store.Store) (*Catalog, error) {
	rows, err := s.ListEquipment()
	if err != nil {
		return nil, fmt.Errorf("catalog: load: %w", err)
	}

	c := &Catalog{store: s, devices: make(map[string]*Device, len(rows))}
	for _, r := range rows {
		d := &Device{
			ID:           r.ID,
			Type:         r.Type,
			Location:     r.Location,
			Registration: wire.RegistrationState(r.Registration),
			Status:       wire.DeviceStatus(r.Status),
			Power:        wire.PowerState(r.Power),
		}
		if r.PlaceID.Valid {
			d.PlaceID = r.PlaceID.String
		}
		if r.ThresholdWatts.Valid {
			d.ThresholdWatts = r.ThresholdWatts.Float64
			d.HasThreshold = true
		}
		c.devices[d.ID] = d
	}
	return c, nil
}

// Get returns a copy of the device record for id.
func (c *Catalog) Get(id string) (Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// SetOnline transitions a device to online, keeping its existing power
// state, and persists the change.
func (c *Catalog) SetOnline(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		return fmt.Errorf("catalog: unknown device %q", id)
	}
	d.Status = wire.StatusOnline
	return c.store.UpdateEquipmentStatusPower(id, string(d.Status), string(d.Power))
}

// SetOffline transitions a device to offline, keeping its existing power
// state, and persists the change. Called on connection close (I5) and by
// the supervisor's shutdown reset.
func (c *Catalog) SetOffline(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		return fmt.Errorf("catalog: unknown device %q", id)
	}
	d.Status = wire.StatusOffline
	return c.store.UpdateEquipmentStatusPower(id, string(d.Status), string(d.Power))
}

// UpdateStatusPower applies a status_update: both fields change together,
// are persisted together, and an audit row is appended.
func (c *Catalog) UpdateStatusPower(id string, status wire.DeviceStatus, power wire.PowerState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		return fmt.Errorf("catalog: unknown device %q", id)
	}
	d.Status = status
	d.Power = power
	if err := c.store.UpdateEquipmentStatusPower(id, string(status), string(power)); err != nil {
		return err
	}
	return c.store.AppendStatusLog(id, string(status), string(power), time.Now())
}

// SetPower updates only the power field, used after a control_response
// reports a command succeeded.
func (c *Catalog) SetPower(id string, power wire.PowerState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		return fmt.Errorf("catalog: unknown device %q", id)
	}
	d.Power = power
	return c.store.UpdateEquipmentStatusPower(id, string(d.Status), string(power))
}

// SetThreshold persists a device's power-alarm threshold.
func (c *Catalog) SetThreshold(id string, watts float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		return fmt.Errorf("catalog: unknown device %q", id)
	}
	if err := c.store.SetThreshold(id, watts); err != nil {
		return err
	}
	d.ThresholdWatts = watts
	d.HasThreshold = true
	return nil
}

// ResetAll forces every device offline/off, for the supervisor's shutdown
// reset mode.
func (c *Catalog) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, d := range c.devices {
		d.Status = wire.StatusOffline
		d.Power = wire.PowerOff
		if err := c.store.UpdateEquipmentStatusPower(id, string(d.Status), string(d.Power)); err != nil {
			continue
		}
	}
}

// Snapshot returns a copy of every device record, for place_list_query and
// similar roster-wide reads.
func (c *Catalog) Snapshot() []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, *d)
	}
	return out
}
