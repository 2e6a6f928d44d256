package wire

// ClientType identifies which population of client sent a message.
type ClientType uint8

const (
	// ClientTypeEquipment is an embedded-equipment simulator connection.
	ClientTypeEquipment ClientType = 1

	// ClientTypeOperator is an operator desktop-client connection.
	ClientTypeOperator ClientType = 2
)

// String returns the client type name.
func (c ClientType) String() string {
	switch c {
	case ClientTypeEquipment:
		return "EQUIPMENT"
	case ClientTypeOperator:
		return "OPERATOR"
	default:
		return "UNKNOWN"
	}
}

// Kind is the message-type numeric tag carried in field 1 of every body.
// Wire values 1-8 are the original protocol's tags and must never be
// renumbered; values above 8 were assigned by this implementation for
// kinds the original grammar named but never tagged (see SPEC_FULL.md §6).
type Kind uint8

const (
	KindEquipmentOnline         Kind = 1
	KindStatusUpdate            Kind = 2
	KindControlCommand         Kind = 3
	KindHeartbeat              Kind = 4
	KindReservationApply       Kind = 5
	KindReservationQuery       Kind = 6
	KindReservationApprove     Kind = 7
	KindControlResponse        Kind = 8
	KindLogin                  Kind = 9
	KindLoginResponse          Kind = 10
	KindOnlineResponse         Kind = 11
	KindHeartbeatResponse      Kind = 12
	KindStatusQuery            Kind = 13
	KindStatusResponse         Kind = 14
	KindReservationResponse    Kind = 15
	KindReservationRecords     Kind = 16
	KindReservationApproveResp Kind = 17
	KindPlaceListQuery         Kind = 18
	KindPlaceListResponse      Kind = 19
	KindEnergyQuery            Kind = 20
	KindEnergyRecords          Kind = 21
	KindSetThreshold           Kind = 22
	KindSetThresholdResponse   Kind = 23
	KindAlarmQuery             Kind = 24
	KindAlarmRecords           Kind = 25
	KindAlarmAck               Kind = 26
	KindAlarmAckResponse       Kind = 27
	KindPowerReport            Kind = 28
	KindAlertMessage           Kind = 29

	// MinKind and MaxKind bound the valid range the codec enforces.
	MinKind Kind = 1
	MaxKind Kind = 200
)

// String returns a human-readable kind name, used in log fields.
func (k Kind) String() string {
	switch k {
	case KindEquipmentOnline:
		return "equipment_online"
	case KindStatusUpdate:
		return "status_update"
	case KindControlCommand:
		return "control_command"
	case KindHeartbeat:
		return "heartbeat"
	case KindReservationApply:
		return "reservation_apply"
	case KindReservationQuery:
		return "reservation_query"
	case KindReservationApprove:
		return "reservation_approve"
	case KindControlResponse:
		return "control_response"
	case KindLogin:
		return "login"
	case KindLoginResponse:
		return "login_response"
	case KindOnlineResponse:
		return "online_response"
	case KindHeartbeatResponse:
		return "heartbeat_response"
	case KindStatusQuery:
		return "status_query"
	case KindStatusResponse:
		return "status_response"
	case KindReservationResponse:
		return "reservation_response"
	case KindReservationRecords:
		return "reservation_records"
	case KindReservationApproveResp:
		return "reservation_approve_response"
	case KindPlaceListQuery:
		return "place_list_query"
	case KindPlaceListResponse:
		return "place_list_response"
	case KindEnergyQuery:
		return "energy_query"
	case KindEnergyRecords:
		return "energy_records"
	case KindSetThreshold:
		return "set_threshold"
	case KindSetThresholdResponse:
		return "set_threshold_response"
	case KindAlarmQuery:
		return "alarm_query"
	case KindAlarmRecords:
		return "alarm_records"
	case KindAlarmAck:
		return "alarm_ack"
	case KindAlarmAckResponse:
		return "alarm_ack_response"
	case KindPowerReport:
		return "power_report"
	case KindAlertMessage:
		return "alert_message"
	default:
		return "unknown"
	}
}

// InRange reports whether k falls inside the codec's accepted kind range.
func (k Kind) InRange() bool {
	return k >= MinKind && k <= MaxKind
}

// CommandKind identifies a control_command/control_response operation.
type CommandKind uint8

const (
	CommandTurnOn          CommandKind = 1
	CommandTurnOff         CommandKind = 2
	CommandRestart         CommandKind = 3
	CommandAdjustSettings  CommandKind = 4
)

// String returns the command kind name.
func (c CommandKind) String() string {
	switch c {
	case CommandTurnOn:
		return "turn_on"
	case CommandTurnOff:
		return "turn_off"
	case CommandRestart:
		return "restart"
	case CommandAdjustSettings:
		return "adjust_settings"
	default:
		return "unknown"
	}
}
