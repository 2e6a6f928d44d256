package wire

// DeviceStatus is a device's online-state within the catalog.
type DeviceStatus string

const (
	StatusOnline     DeviceStatus = "online"
	StatusOffline    DeviceStatus = "offline"
	StatusRestarting DeviceStatus = "restarting"
)

// PowerState is a device's power-state within the catalog.
type PowerState string

const (
	PowerOn  PowerState = "on"
	PowerOff PowerState = "off"
)

// RegistrationState is a device's registration record state. Only
// Registered and Pending devices may ever bind an equipment connection.
type RegistrationState string

const (
	Registered   RegistrationState = "registered"
	Pending      RegistrationState = "pending"
	Unregistered RegistrationState = "unregistered"
)

// CanConnect reports whether a device in this registration state is
// allowed to complete equipment_online.
func (r RegistrationState) CanConnect() bool {
	return r == Registered || r == Pending
}

// Role is an operator user's authorization role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ReservationStatus is the lifecycle state of a reservation row.
type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationApproved ReservationStatus = "approved"
	ReservationRejected ReservationStatus = "rejected"
)

// Outcome is the literal success/fail token used as the first payload
// field of every *_response kind.
type Outcome string

const (
	Success Outcome = "success"
	Fail    Outcome = "fail"
)
