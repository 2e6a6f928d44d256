package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campushub/eqserver/internal/forwarder"
	"github.com/campushub/eqserver/internal/registry"
	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/pkg/wire"
)

// handleControlRequest forwards an operator's command to the target
// device and replies synchronously with "accepted" or "device_offline"
// (§4.5's control_request row). The device's eventual real outcome
// arrives later, independently, as a control_response broadcast.
func handleControlRequest(d *Deps, connID string, identity registry.Identity, msg wire.Message) error {
	if err := requireOperator(identity); err != nil {
		return err
	}

	fields := wire.SplitRest(msg.Rest, 2)
	cmdVal, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("control_request: bad command kind %q: %w", fields[0], err)
	}

	err = forwarder.Forward(d.Reg, msg.Subject, wire.CommandKind(cmdVal), fields[1])
	if err != nil {
		if errors.Is(err, registry.ErrDeviceOffline) {
			return reply(d, connID, wire.ClientTypeOperator, wire.KindControlResponse, msg.Subject,
				string(wire.Fail), "device_offline")
		}
		return fmt.Errorf("control_request: %w", err)
	}

	return reply(d, connID, wire.ClientTypeOperator, wire.KindControlResponse, msg.Subject,
		string(wire.Success), "accepted")
}

// handleReservationApply validates and inserts a reservation, rejecting
// unknown users and time overlaps with any existing non-rejected
// reservation at the same place.
func handleReservationApply(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireOperator(identity); err != nil {
		return err
	}
	placeID := msg.Subject

	fields := wire.SplitRest(msg.Rest, 4)
	userID, startStr, endStr, purpose := fields[0], fields[1], fields[2], fields[3]

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationResponse, "", string(wire.Fail), "bad_time_format")
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationResponse, "", string(wire.Fail), "bad_time_format")
	}

	if _, err := d.Store.GetUser(userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationResponse, "", string(wire.Fail), "unknown_user")
		}
		return fmt.Errorf("reservation_apply: get user: %w", err)
	}

	overlaps, err := d.Store.OverlappingReservations(placeID, start, end)
	if err != nil {
		return fmt.Errorf("reservation_apply: overlap check: %w", err)
	}
	if len(overlaps) > 0 {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationResponse, "", string(wire.Fail), "overlap")
	}

	if _, err := d.Store.InsertReservation(placeID, userID, start, end, purpose); err != nil {
		return fmt.Errorf("reservation_apply: insert: %w", err)
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationResponse, "", string(wire.Success))
}

// handleReservationQuery scopes results by the caller's role: admins see
// every reservation, teachers see their own plus their supervised
// students', students see only their own.
func handleReservationQuery(d *Deps, connID string, identity registry.Identity, msg wire.Message) error {
	if err := requireOperator(identity); err != nil {
		return err
	}

	placeID := msg.Subject
	if placeID == "all" {
		placeID = ""
	}

	var userIDs []string
	switch identity.Role {
	case wire.RoleAdmin:
		userIDs = nil
	case wire.RoleTeacher:
		students, err := d.Store.SupervisedStudentIDs(identity.UserID)
		if err != nil {
			return fmt.Errorf("reservation_query: supervised students: %w", err)
		}
		userIDs = append([]string{identity.UserID}, students...)
	default:
		userIDs = []string{identity.UserID}
	}

	rows, err := d.Store.ReservationsForPlace(placeID, userIDs)
	if err != nil {
		return fmt.Errorf("reservation_query: %w", err)
	}

	records := make([]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s",
			r.ID, r.PlaceID, r.UserID, r.StartAt.Format(time.RFC3339), r.EndAt.Format(time.RFC3339), r.Purpose, r.Status))
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationRecords, "", wire.JoinRecords(records))
}

// handleReservationApprove is admin-only; it approves or rejects a
// reservation scoped to (id, place-id).
func handleReservationApprove(d *Deps, connID string, identity registry.Identity, msg wire.Message) error {
	if err := requireOperator(identity); err != nil {
		return err
	}
	if identity.Role != wire.RoleAdmin {
		if err := reply(d, connID, wire.ClientTypeOperator, wire.KindReservationApproveResp, "", string(wire.Fail), "not_admin"); err != nil {
			return err
		}
		return ErrNotAdmin
	}

	placeID := msg.Subject
	fields := wire.SplitRest(msg.Rest, 2)
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationApproveResp, "", string(wire.Fail), "bad_reservation_id")
	}

	var status string
	switch fields[1] {
	case "approve":
		status = string(wire.ReservationApproved)
	case "reject":
		status = string(wire.ReservationRejected)
	default:
		return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationApproveResp, "", string(wire.Fail), "bad_action")
	}

	if err := d.Store.UpdateReservationStatus(id, placeID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationApproveResp, "", string(wire.Fail), "not_found")
		}
		return fmt.Errorf("reservation_approve: %w", err)
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindReservationApproveResp, "", string(wire.Success))
}

// handlePlaceListQuery emits the place roster with each place's device
// ids joined by ':'.
func handlePlaceListQuery(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireOperator(identity); err != nil {
		return err
	}

	places, err := d.Store.ListPlaces()
	if err != nil {
		return fmt.Errorf("place_list_query: %w", err)
	}

	records := make([]string, 0, len(places))
	for _, p := range places {
		records = append(records, fmt.Sprintf("%s,%s,%s", p.ID, p.Name, strings.Join(p.DeviceIDs, ":")))
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindPlaceListResponse, "", wire.JoinRecords(records))
}

// handleEnergyQuery aggregates power-log rows into time buckets for one
// device or "all" devices.
func handleEnergyQuery(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireOperator(identity); err != nil {
		return err
	}

	fields := wire.SplitRest(msg.Rest, 1)
	bucketSeconds, _ := strconv.Atoi(fields[0])

	buckets, err := d.Store.AggregateEnergy(msg.Subject, bucketSeconds)
	if err != nil {
		return fmt.Errorf("energy_query: %w", err)
	}

	records := make([]string, 0, len(buckets))
	for _, b := range buckets {
		records = append(records, fmt.Sprintf("%s,%s,%s",
			b.DeviceID, b.Bucket.Format(time.RFC3339), strconv.FormatFloat(b.Watts, 'f', -1, 64)))
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindEnergyRecords, "", wire.JoinRecords(records))
}

// handleSetThreshold is admin-only; it persists a device's power-alarm
// threshold in watts.
func handleSetThreshold(d *Deps, connID string, identity registry.Identity, msg wire.Message) error {
	if err := requireOperator(identity); err != nil {
		return err
	}
	if identity.Role != wire.RoleAdmin {
		if err := reply(d, connID, wire.ClientTypeOperator, wire.KindSetThresholdResponse, "", string(wire.Fail), "not_admin"); err != nil {
			return err
		}
		return ErrNotAdmin
	}

	fields := wire.SplitRest(msg.Rest, 1)
	watts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindSetThresholdResponse, "", string(wire.Fail), "bad_watts")
	}

	if err := d.Cat.SetThreshold(msg.Subject, watts); err != nil {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindSetThresholdResponse, "", string(wire.Fail), "unknown_device")
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindSetThresholdResponse, "", string(wire.Success))
}

// handleAlarmQuery returns every unacknowledged alarm.
func handleAlarmQuery(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireOperator(identity); err != nil {
		return err
	}

	alarms, err := d.Store.UnacknowledgedAlarms()
	if err != nil {
		return fmt.Errorf("alarm_query: %w", err)
	}

	records := make([]string, 0, len(alarms))
	for _, a := range alarms {
		records = append(records, fmt.Sprintf("%d,%s,%s,%s,%s",
			a.ID, a.DeviceID,
			strconv.FormatFloat(a.Watts, 'f', -1, 64),
			strconv.FormatFloat(a.ThresholdWatts, 'f', -1, 64),
			a.At.Format(time.RFC3339)))
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindAlarmRecords, "", wire.JoinRecords(records))
}

// handleAlarmAck marks an alarm acknowledged.
func handleAlarmAck(d *Deps, connID string, msg wire.Message) error {
	identity, _ := d.Reg.LookupIdentity(connID)
	if err := requireOperator(identity); err != nil {
		return err
	}

	fields := wire.SplitRest(msg.Rest, 1)
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindAlarmAckResponse, "", string(wire.Fail))
	}

	if err := d.Store.AckAlarm(id); err != nil {
		return reply(d, connID, wire.ClientTypeOperator, wire.KindAlarmAckResponse, "", string(wire.Fail))
	}
	return reply(d, connID, wire.ClientTypeOperator, wire.KindAlarmAckResponse, "", string(wire.Success))
}
