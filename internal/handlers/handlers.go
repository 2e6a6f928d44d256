// Package handlers implements one handler per wire message kind. Each
// handler reads and mutates the registry/catalog, may call the store, and
// writes its response (if any) back onto the connection or forwards it
// elsewhere. Handlers hold no package-level state; everything they need
// arrives through Deps and the decoded message.
package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/campushub/eqserver/internal/catalog"
	"github.com/campushub/eqserver/internal/registry"
	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/pkg/wire"
	"github.com/rs/zerolog"
)

// ErrNotAdmin indicates a non-admin operator attempted an admin-only
// operation (reservation_approve, set_threshold). It is a StateError: the
// caller replies with a failure frame and keeps the connection open.
var ErrNotAdmin = errors.New("handlers: operator is not an admin")

// ErrWrongClientType indicates a bound connection sent a kind reserved for
// the other client population (e.g. an operator connection sending
// status_update). Treated as a ProtocolError.
var ErrWrongClientType = fmt.Errorf("%w: wrong client type for this kind", wire.ErrProtocol)

// ErrUnbound indicates a connection with no bound identity sent a message
// kind other than login or equipment_online, violating I2.
var ErrUnbound = fmt.Errorf("%w: message requires a bound identity", wire.ErrProtocol)

// ErrCloseAfterReply wraps an error returned after a handler has already
// written its failure reply but the connection must still be closed (the
// equipment_online bind-race loser per §4.5's tie-break rule). The event
// loop closes the connection without writing a second reply.
var ErrCloseAfterReply = errors.New("handlers: close connection after reply")

// Deps bundles everything a handler needs. One Deps is shared by every
// connection's dispatch loop; its fields are themselves safe for
// concurrent use.
type Deps struct {
	Reg   *registry.Registry
	Cat   *catalog.Catalog
	Store *store.Store
	Log   zerolog.Logger
}

// Dispatch decodes body and routes it to the handler for its kind. connID
// identifies the connection body arrived on.
//
// Three outcomes: (1) nil — handled, any reply already written; (2) an
// error wrapping wire.ErrProtocol — the caller must close the connection
// without writing anything further; (3) an error wrapping
// ErrCloseAfterReply — the handler already wrote its failure reply and
// the caller must still close the connection (the bind-race loser path).
// Any other non-nil error is a downstream failure (e.g. a store I/O
// error): the caller logs it and keeps the connection open.
func Dispatch(d *Deps, connID string, body []byte) error {
	msg, err := wire.Decode(body)
	if err != nil {
		return fmt.Errorf("dispatch: decode: %w", err)
	}

	identity, found := d.Reg.LookupIdentity(connID)
	if !found {
		return fmt.Errorf("dispatch: %w: connection not registered", ErrUnbound)
	}
	if identity.Bound() {
		d.Reg.Touch(connID)
	} else if msg.Kind != wire.KindLogin && msg.Kind != wire.KindEquipmentOnline {
		return fmt.Errorf("dispatch: %w: kind=%s", ErrUnbound, msg.Kind)
	}

	switch msg.Kind {
	case wire.KindEquipmentOnline:
		return handleEquipmentOnline(d, connID, msg)
	case wire.KindStatusUpdate:
		return handleStatusUpdate(d, connID, msg)
	case wire.KindHeartbeat:
		return handleHeartbeat(d, connID, identity, msg)
	case wire.KindControlCommand:
		return handleControlRequest(d, connID, identity, msg)
	case wire.KindControlResponse:
		return handleControlResponse(d, connID, msg)
	case wire.KindStatusQuery:
		return handleStatusQuery(d, connID, identity, msg)
	case wire.KindReservationApply:
		return handleReservationApply(d, connID, msg)
	case wire.KindReservationQuery:
		return handleReservationQuery(d, connID, identity, msg)
	case wire.KindReservationApprove:
		return handleReservationApprove(d, connID, identity, msg)
	case wire.KindPlaceListQuery:
		return handlePlaceListQuery(d, connID, msg)
	case wire.KindEnergyQuery:
		return handleEnergyQuery(d, connID, msg)
	case wire.KindSetThreshold:
		return handleSetThreshold(d, connID, identity, msg)
	case wire.KindAlarmQuery:
		return handleAlarmQuery(d, connID, msg)
	case wire.KindAlarmAck:
		return handleAlarmAck(d, connID, msg)
	case wire.KindPowerReport:
		return handlePowerReport(d, connID, msg)
	case wire.KindLogin:
		return handleLogin(d, connID, msg)
	default:
		return fmt.Errorf("dispatch: %w: unhandled kind %s", wire.ErrProtocol, msg.Kind)
	}
}

// reply is a small helper every handler uses to send a response frame
// back to the connection that triggered it.
func reply(d *Deps, connID string, ct wire.ClientType, kind wire.Kind, subject string, fields ...string) error {
	body := wire.Encode(ct, kind, subject, fields...)
	return d.Reg.SendTo(connID, body)
}

func bucketToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// requireEquipment rejects a message whose bound identity is not an
// equipment connection. Spoofing a kind reserved for the other client
// population is a protocol violation, not a state error.
func requireEquipment(identity registry.Identity) error {
	if identity.ClientType != wire.ClientTypeEquipment {
		return ErrWrongClientType
	}
	return nil
}

// requireOperator rejects a message whose bound identity is not an
// operator connection.
func requireOperator(identity registry.Identity) error {
	if identity.ClientType != wire.ClientTypeOperator {
		return ErrWrongClientType
	}
	return nil
}
