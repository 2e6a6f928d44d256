package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/campushub/eqserver/internal/registry"
	"github.com/campushub/eqserver/pkg/wire"
)

// handleEquipmentOnline binds subject as an equipment connection. Per the
// tie-break rule in §4.5, the loser of a bind race (or any device that
// cannot connect) is told so and then closed.
func handleEquipmentOnline(d *Deps, connID string, msg wire.Message) error {
	deviceID := msg.Subject

	if err := d.Reg.BindEquipment(connID, deviceID); err != nil {
		replyErr := reply(d, connID, wire.ClientTypeEquipment, wire.KindOnlineResponse, "", string(wire.Fail))
		if replyErr != nil {
			return fmt.Errorf("equipment_online: reply: %w", replyErr)
		}
		return fmt.Errorf("equipment_online: %w: %v", ErrCloseAfterReply, err)
	}

	return reply(d, connID, wire.ClientTypeEquipment, wire.KindOnlineResponse, "", string(wire.Success))
}

// handleStatusUpdate applies a status/power change reported by the
// device itself. No reply is sent.
func handleStatusUpdate(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireEquipment(identity); err != nil {
		return err
	}
	if identity.DeviceID != msg.Subject {
		return fmt.Errorf("status_update: %w: identity/subject mismatch", ErrWrongClientType)
	}

	fields := wire.SplitRest(msg.Rest, 3)
	status, power := wire.DeviceStatus(fields[0]), wire.PowerState(fields[1])

	if err := d.Cat.UpdateStatusPower(msg.Subject, status, power); err != nil {
		return fmt.Errorf("status_update: %w", err)
	}
	return nil
}

// handleHeartbeat replies with the legacy literal "pong" form regardless
// of which client population sent it.
func handleHeartbeat(d *Deps, connID string, identity registry.Identity, msg wire.Message) error {
	return reply(d, connID, identity.ClientType, wire.KindHeartbeat, "pong")
}

// handleControlResponse records the device's outcome for a previously
// forwarded control_command and fans it out to every operator connection.
func handleControlResponse(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireEquipment(identity); err != nil {
		return err
	}

	fields := wire.SplitRest(msg.Rest, 3)
	result, cmdName, reason := fields[0], fields[1], fields[2]

	if result == string(wire.Success) {
		switch cmdName {
		case wire.CommandTurnOn.String():
			_ = d.Cat.SetPower(identity.DeviceID, wire.PowerOn)
		case wire.CommandTurnOff.String():
			_ = d.Cat.SetPower(identity.DeviceID, wire.PowerOff)
		}
	}

	outFields := []string{result, cmdName}
	if reason != "" {
		outFields = append(outFields, reason)
	}
	body := wire.Encode(wire.ClientTypeOperator, wire.KindControlResponse, identity.DeviceID, outFields...)
	d.Reg.BroadcastToOperators(body)
	return nil
}

// handleStatusQuery answers with the catalog's current view of a device.
// An unknown device id gets the literal "unknown" status/power pair
// rather than a failure reply — tag 14 carries no fail variant.
func handleStatusQuery(d *Deps, connID string, identity registry.Identity, msg wire.Message) error {
	status, power := "unknown", "unknown"
	if dev, ok := d.Cat.Get(msg.Subject); ok {
		status, power = string(dev.Status), string(dev.Power)
	}
	return reply(d, connID, identity.ClientType, wire.KindStatusResponse, "", status, power)
}

// handlePowerReport logs a power reading and raises an alarm broadcast to
// every operator when it exceeds the device's configured threshold.
func handlePowerReport(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireEquipment(identity); err != nil {
		return err
	}

	fields := wire.SplitRest(msg.Rest, 1)
	watts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("power_report: bad watts %q: %w", fields[0], err)
	}

	now := time.Now()
	if err := d.Store.InsertEnergyLog(msg.Subject, watts, bucketToMinute(now)); err != nil {
		return fmt.Errorf("power_report: %w", err)
	}

	dev, ok := d.Cat.Get(msg.Subject)
	if !ok || !dev.HasThreshold || watts <= dev.ThresholdWatts {
		return nil
	}

	if _, err := d.Store.InsertAlarm(msg.Subject, watts, dev.ThresholdWatts, now); err != nil {
		return fmt.Errorf("power_report: insert alarm: %w", err)
	}
	alert := wire.Encode(wire.ClientTypeOperator, wire.KindAlertMessage, msg.Subject,
		strconv.FormatFloat(watts, 'f', -1, 64),
		strconv.FormatFloat(dev.ThresholdWatts, 'f', -1, 64))
	d.Reg.BroadcastToOperators(alert)
	return nil
}
