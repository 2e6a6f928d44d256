package registry

import (
	"database/sql"
	"testing"

	"github.com/campushub/eqserver/internal/catalog"
	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/pkg/wire"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.InsertPlace(store.Place{ID: "room_A", Name: "Room A"}))
	require.NoError(t, s.InsertEquipment(store.Equipment{
		ID: "proj_101", Type: "projector", Location: "room_A",
		PlaceID: sql.NullString{String: "room_A", Valid: true},
		Registration: "registered", Status: "offline", Power: "off",
	}))
	require.NoError(t, s.InsertEquipment(store.Equipment{
		ID: "proj_999", Type: "projector", Location: "room_B",
		Registration: "unregistered", Status: "offline", Power: "off",
	}))

	cat, err := catalog.Load(s)
	require.NoError(t, err)
	return New(cat)
}

func noopSend(body []byte) error { return nil }

func TestBindEquipmentSuccess(t *testing.T) {
	r := newTestRegistry(t)
	r.Accept("conn1", noopSend, func() error { return nil })

	require.NoError(t, r.BindEquipment("conn1", "proj_101"))

	connID, ok := r.LookupByDevice("proj_101")
	require.True(t, ok)
	require.Equal(t, "conn1", connID)

	id, ok := r.LookupIdentity("conn1")
	require.True(t, ok)
	require.Equal(t, "proj_101", id.DeviceID)
}

func TestBindEquipmentUnknownDevice(t *testing.T) {
	r := newTestRegistry(t)
	r.Accept("conn1", noopSend, func() error { return nil })
	require.ErrorIs(t, r.BindEquipment("conn1", "ghost"), ErrUnknownDevice)
}

func TestBindEquipmentUnregisteredDevice(t *testing.T) {
	r := newTestRegistry(t)
	r.Accept("conn1", noopSend, func() error { return nil })
	require.ErrorIs(t, r.BindEquipment("conn1", "proj_999"), ErrNotConnectable)
}

func TestBindEquipmentDuplicateRejected(t *testing.T) {
	r := newTestRegistry(t)
	r.Accept("conn1", noopSend, func() error { return nil })
	r.Accept("conn2", noopSend, func() error { return nil })

	require.NoError(t, r.BindEquipment("conn1", "proj_101"))
	require.ErrorIs(t, r.BindEquipment("conn2", "proj_101"), ErrAlreadyBound)

	// The first connection's mapping must be preserved (scenario 2, §8).
	connID, ok := r.LookupByDevice("proj_101")
	require.True(t, ok)
	require.Equal(t, "conn1", connID)
}

func TestBindOperatorLastWinsEvictsOldConnection(t *testing.T) {
	r := newTestRegistry(t)
	closed := false
	r.Accept("conn1", noopSend, func() error { closed = true; return nil })
	r.Accept("conn2", noopSend, func() error { return nil })

	evicted, err := r.BindOperator("conn1", "teach1", wire.RoleTeacher)
	require.NoError(t, err)
	require.Nil(t, evicted)

	evicted, err = r.BindOperator("conn2", "teach1", wire.RoleTeacher)
	require.NoError(t, err)
	require.NotNil(t, evicted)
	require.NoError(t, evicted())
	require.True(t, closed)

	connID, ok := r.LookupIdentity("conn2")
	require.True(t, ok)
	require.Equal(t, "teach1", connID.UserID)
}

func TestUnbindEquipmentSetsOffline(t *testing.T) {
	r := newTestRegistry(t)
	r.Accept("conn1", noopSend, func() error { return nil })
	require.NoError(t, r.BindEquipment("conn1", "proj_101"))

	r.Unbind("conn1")

	_, ok := r.LookupByDevice("proj_101")
	require.False(t, ok)

	d, ok := r.catalog.Get("proj_101")
	require.True(t, ok)
	require.Equal(t, wire.StatusOffline, d.Status)
}

func TestSendToDeviceOffline(t *testing.T) {
	r := newTestRegistry(t)
	err := r.SendToDevice("proj_101", []byte("hi"))
	require.ErrorIs(t, err, ErrDeviceOffline)
}

func TestBroadcastToOperatorsReachesAll(t *testing.T) {
	r := newTestRegistry(t)
	var got1, got2 []byte
	r.Accept("conn1", func(b []byte) error { got1 = b; return nil }, func() error { return nil })
	r.Accept("conn2", func(b []byte) error { got2 = b; return nil }, func() error { return nil })

	_, err := r.BindOperator("conn1", "teach1", wire.RoleTeacher)
	require.NoError(t, err)
	_, err = r.BindOperator("conn2", "stud1", wire.RoleStudent)
	require.NoError(t, err)

	r.BroadcastToOperators([]byte("alert"))
	require.Equal(t, []byte("alert"), got1)
	require.Equal(t, []byte("alert"), got2)
}

func TestSnapshotReflectsHeartbeats(t *testing.T) {
	r := newTestRegistry(t)
	r.Accept("conn1", noopSend, func() error { return nil })

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "conn1", snap[0].ConnID)
}

func TestCloseAndUnbindIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	closedCount := 0
	r.Accept("conn1", noopSend, func() error { closedCount++; return nil })
	require.NoError(t, r.BindEquipment("conn1", "proj_101"))

	r.CloseAndUnbind("conn1")
	r.CloseAndUnbind("conn1")

	require.Equal(t, 1, closedCount)
}
