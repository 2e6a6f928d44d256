package catalog

import (
	"database/sql"
	"testing"

	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/pkg/wire"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*Catalog, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.InsertPlace(store.Place{ID: "room_A", Name: "Room A"}))
	require.NoError(t, s.InsertEquipment(store.Equipment{
		ID: "proj_101", Type: "projector", Location: "room_A",
		PlaceID:      sql.NullString{String: "room_A", Valid: true},
		Registration: "registered", Status: "offline", Power: "off",
	}))

	c, err := Load(s)
	require.NoError(t, err)
	return c, s
}

func TestLoadPopulatesFromStore(t *testing.T) {
	c, _ := newTestCatalog(t)

	d, ok := c.Get("proj_101")
	require.True(t, ok)
	require.Equal(t, wire.RegistrationState("registered"), d.Registration)
	require.Equal(t, wire.StatusOffline, d.Status)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestSetOnlineOfflinePersist(t *testing.T) {
	c, s := newTestCatalog(t)

	require.NoError(t, c.SetOnline("proj_101"))
	d, _ := c.Get("proj_101")
	require.Equal(t, wire.StatusOnline, d.Status)

	persisted, err := s.GetEquipment("proj_101")
	require.NoError(t, err)
	require.Equal(t, "online", persisted.Status)

	require.NoError(t, c.SetOffline("proj_101"))
	d, _ = c.Get("proj_101")
	require.Equal(t, wire.StatusOffline, d.Status)
}

func TestUpdateStatusPowerAppendsLog(t *testing.T) {
	c, _ := newTestCatalog(t)

	require.NoError(t, c.UpdateStatusPower("proj_101", wire.StatusOnline, wire.PowerOn))
	d, _ := c.Get("proj_101")
	require.Equal(t, wire.PowerOn, d.Power)
}

func TestSetThreshold(t *testing.T) {
	c, s := newTestCatalog(t)

	require.NoError(t, c.SetThreshold("proj_101", 300))
	d, _ := c.Get("proj_101")
	require.True(t, d.HasThreshold)
	require.Equal(t, 300.0, d.ThresholdWatts)

	persisted, err := s.GetEquipment("proj_101")
	require.NoError(t, err)
	require.True(t, persisted.ThresholdWatts.Valid)
}

func TestResetAllForcesOfflineAndOff(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.SetOnline("proj_101"))
	require.NoError(t, c.UpdateStatusPower("proj_101", wire.StatusOnline, wire.PowerOn))

	c.ResetAll()

	d, _ := c.Get("proj_101")
	require.Equal(t, wire.StatusOffline, d.Status)
	require.Equal(t, wire.PowerOff, d.Power)
}

func TestSnapshotReturnsAllDevices(t *testing.T) {
	c, _ := newTestCatalog(t)
	snap := c.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "proj_101", snap[0].ID)
}

func TestUnknownDeviceOperationsError(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.Error(t, c.SetOnline("nope"))
	require.Error(t, c.SetOffline("nope"))
	require.Error(t, c.UpdateStatusPower("nope", wire.StatusOnline, wire.PowerOn))
	require.Error(t, c.SetPower("nope", wire.PowerOn))
	require.Error(t, c.SetThreshold("nope", 10))
}
