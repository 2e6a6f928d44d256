package app

import (
	"context"
	"database/sql"
	"net"
	"testing"
	"time"

	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/pkg/transport"
	"github.com/campushub/eqserver/pkg/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// startTestApp seeds a file-backed database, starts an App on an ephemeral
// port, and returns it already running alongside a cancel func that stops
// it. Grounded on pkg/transport's own startTestServer test helper.
func startTestApp(t *testing.T) (addr string, stop func()) {
	t.Helper()

	// A file-backed database (rather than ":memory:") so the seeding Store
	// below and the one App.New opens share the same data.
	dbPath := t.TempDir() + "/eqserver.db"

	seed, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, seed.InsertPlace(store.Place{ID: "room_A", Name: "Room A"}))
	require.NoError(t, seed.InsertEquipment(store.Equipment{
		ID: "proj_101", Type: "projector", Location: "room_A",
		PlaceID: sql.NullString{String: "room_A", Valid: true},
		Registration: "registered", Status: "offline", Power: "off",
	}))
	require.NoError(t, seed.InsertUser(store.User{ID: "admin1", Role: "admin"}))
	require.NoError(t, seed.Close())

	a, err := New(Config{
		ListenAddr:          "127.0.0.1:0",
		DBPath:              dbPath,
		HeartbeatTimeout:    time.Minute,
		MaxFrameSize:        transport.DefaultMaxMessageSize,
		MaintenanceInterval: 50 * time.Millisecond,
		Logger:              zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	// Wait for the listener to be bound.
	require.Eventually(t, func() bool { return a.Addr() != "" }, time.Second, time.Millisecond)

	return a.Addr(), func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for App.Run to return")
		}
	}
}

func dialAndFrame(t *testing.T, addr string) (net.Conn, *transport.Framer) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return conn, transport.NewFramer(conn, zerolog.Nop())
}

func TestEndToEndRegisterThenOnline(t *testing.T) {
	addr, stop := startTestApp(t)
	defer stop()

	conn, fr := dialAndFrame(t, addr)
	defer conn.Close()

	body := wire.Encode(wire.ClientTypeEquipment, wire.KindEquipmentOnline, "proj_101", "room_A", "projector")
	require.NoError(t, fr.WriteFrame(body))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := fr.ReadFrame()
	require.NoError(t, err)

	msg, err := wire.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, wire.KindOnlineResponse, msg.Kind)
	require.Equal(t, "success", msg.Rest)
}

func TestEndToEndControlRoundTrip(t *testing.T) {
	addr, stop := startTestApp(t)
	defer stop()

	devConn, devFr := dialAndFrame(t, addr)
	defer devConn.Close()
	require.NoError(t, devFr.WriteFrame(wire.Encode(wire.ClientTypeEquipment, wire.KindEquipmentOnline, "proj_101", "room_A", "projector")))
	devConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := devFr.ReadFrame() // online_response
	require.NoError(t, err)

	opConn, opFr := dialAndFrame(t, addr)
	defer opConn.Close()
	require.NoError(t, opFr.WriteFrame(wire.Encode(wire.ClientTypeOperator, wire.KindLogin, "auth", "admin1", "admin")))
	opConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = opFr.ReadFrame() // login_response
	require.NoError(t, err)

	require.NoError(t, opFr.WriteFrame(wire.Encode(wire.ClientTypeOperator, wire.KindControlCommand, "proj_101", "1")))
	opConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ackBody, err := opFr.ReadFrame()
	require.NoError(t, err)
	ack, err := wire.Decode(ackBody)
	require.NoError(t, err)
	require.Equal(t, wire.KindControlResponse, ack.Kind)
	require.Equal(t, "success|accepted", ack.Rest)

	devConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	cmdBody, err := devFr.ReadFrame()
	require.NoError(t, err)
	cmd, err := wire.Decode(cmdBody)
	require.NoError(t, err)
	require.Equal(t, wire.KindControlCommand, cmd.Kind)
	require.Equal(t, "proj_101", cmd.Subject)

	require.NoError(t, devFr.WriteFrame(wire.Encode(wire.ClientTypeEquipment, wire.KindControlResponse, "proj_101", "success", "turn_on")))

	opConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	broadcastBody, err := opFr.ReadFrame()
	require.NoError(t, err)
	broadcast, err := wire.Decode(broadcastBody)
	require.NoError(t, err)
	require.Equal(t, wire.KindControlResponse, broadcast.Kind)
	require.Equal(t, "proj_101", broadcast.Subject)
	require.Equal(t, "success|turn_on", broadcast.Rest)
}

func TestEndToEndControlWhileOffline(t *testing.T) {
	addr, stop := startTestApp(t)
	defer stop()

	opConn, opFr := dialAndFrame(t, addr)
	defer opConn.Close()
	require.NoError(t, opFr.WriteFrame(wire.Encode(wire.ClientTypeOperator, wire.KindLogin, "auth", "admin1", "admin")))
	opConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := opFr.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, opFr.WriteFrame(wire.Encode(wire.ClientTypeOperator, wire.KindControlCommand, "proj_999", "1")))
	opConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := opFr.ReadFrame()
	require.NoError(t, err)
	msg, err := wire.Decode(body)
	require.NoError(t, err)
	require.Equal(t, wire.KindControlResponse, msg.Kind)
	require.Equal(t, "fail|device_offline", msg.Rest)
}
