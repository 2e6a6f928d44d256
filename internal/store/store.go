// Package store is the SQLite-backed adapter for the campus equipment
// database of record: the equipment roster, status history, reservations,
// energy log, and alarms. The core treats it as an abstract persistence
// boundary; every method here either loads state at startup or records a
// side effect a handler has already decided on.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound indicates a lookup by id found no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a *sql.DB and serializes writes with an internal lock, the
// same discipline the teacher's web-API store uses around its SQLite
// handle.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if necessary) the SQLite database at path and runs
// the schema migration. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: configure: %w", err)
	}

	// The store already serializes every write with s.mu; pinning the pool
	// to one connection additionally keeps an in-memory (":memory:")
	// database single-backed instead of handing out a fresh empty database
	// per pooled connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Migrate creates the schema if it does not already exist. Open runs it on
// every open, which is how the `migrate` CLI subcommand bootstraps a
// database file without starting the server.
func (s *Store) Migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL CHECK (role IN ('admin','teacher','student')),
		supervisor_id TEXT REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS places (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS equipment (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		location TEXT NOT NULL,
		place_id TEXT REFERENCES places(id),
		registration TEXT NOT NULL CHECK (registration IN ('registered','pending','unregistered')),
		status TEXT NOT NULL DEFAULT 'offline',
		power TEXT NOT NULL DEFAULT 'off',
		threshold_watts REAL
	);

	CREATE TABLE IF NOT EXISTS status_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		status TEXT NOT NULL,
		power TEXT NOT NULL,
		at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		place_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		start_at DATETIME NOT NULL,
		end_at DATETIME NOT NULL,
		purpose TEXT,
		status TEXT NOT NULL CHECK (status IN ('pending','approved','rejected'))
	);

	CREATE TABLE IF NOT EXISTS energy_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		watts REAL NOT NULL,
		bucket DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alarms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		watts REAL NOT NULL,
		threshold_watts REAL NOT NULL,
		at DATETIME NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_status_log_device ON status_log(device_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_place ON reservations(place_id);
	CREATE INDEX IF NOT EXISTS idx_energy_log_device_bucket ON energy_log(device_id, bucket);
	CREATE INDEX IF NOT EXISTS idx_alarms_ack ON alarms(acknowledged);
	`

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// User is a row of the users table.
type User struct {
	ID           string
	Role         string
	SupervisorID sql.NullString
}

// InsertUser provisions a new user row. Account creation and credential
// verification are out of scope (§1 Non-goals); this exists for operator
// tooling and tests to seed the users table that `login` authenticates
// against.
func (s *Store) InsertUser(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO users (id, role, supervisor_id) VALUES (?, ?, ?)`, u.ID, u.Role, u.SupervisorID)
	if err != nil {
		return fmt.Errorf("store: insert user: %w", err)
	}
	return nil
}

// GetUser looks up a user by id. Returns ErrNotFound if absent.
func (s *Store) GetUser(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u User
	err := s.db.QueryRow(`SELECT id, role, supervisor_id FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Role, &u.SupervisorID)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// SupervisedStudentIDs returns the ids of every user whose supervisor_id
// is teacherID, used to scope a teacher's reservation_query results.
func (s *Store) SupervisedStudentIDs(teacherID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM users WHERE supervisor_id = ?`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("store: supervised students: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: supervised students scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Equipment is a row of the equipment table.
type Equipment struct {
	ID             string
	Type           string
	Location       string
	PlaceID        sql.NullString
	Registration   string
	Status         string
	Power          string
	ThresholdWatts sql.NullFloat64
}

// GetEquipment looks up one device by id. Returns ErrNotFound if absent.
func (s *Store) GetEquipment(id string) (Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEquipmentLocked(id)
}

func (s *Store) getEquipmentLocked(id string) (Equipment, error) {
	var e Equipment
	err := s.db.QueryRow(`
		SELECT id, type, location, place_id, registration, status, power, threshold_watts
		FROM equipment WHERE id = ?
	`, id).Scan(&e.ID, &e.Type, &e.Location, &e.PlaceID, &e.Registration, &e.Status, &e.Power, &e.ThresholdWatts)
	if err == sql.ErrNoRows {
		return Equipment{}, ErrNotFound
	}
	if err != nil {
		return Equipment{}, fmt.Errorf("store: get equipment: %w", err)
	}
	return e, nil
}

// InsertEquipment provisions a new equipment row, typically with
// registration "pending" until the physical device is commissioned.
// Provisioning new devices is an operator/admin concern outside the wire
// protocol itself (§1 Non-goals), exposed here for tooling and tests.
func (s *Store) InsertEquipment(e Equipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO equipment (id, type, location, place_id, registration, status, power, threshold_watts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Type, e.Location, e.PlaceID, e.Registration, e.Status, e.Power, e.ThresholdWatts)
	if err != nil {
		return fmt.Errorf("store: insert equipment: %w", err)
	}
	return nil
}

// ListEquipment returns the full equipment roster, used to populate the
// in-memory catalog at startup.
func (s *Store) ListEquipment() ([]Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, type, location, place_id, registration, status, power, threshold_watts
		FROM equipment
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list equipment: %w", err)
	}
	defer rows.Close()

	var out []Equipment
	for rows.Next() {
		var e Equipment
		if err := rows.Scan(&e.ID, &e.Type, &e.Location, &e.PlaceID, &e.Registration, &e.Status, &e.Power, &e.ThresholdWatts); err != nil {
			return nil, fmt.Errorf("store: list equipment scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEquipmentStatusPower persists a device's status and power fields
// in a single write, per the no-torn-state guarantee in §5.
func (s *Store) UpdateEquipmentStatusPower(id, status, power string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE equipment SET status = ?, power = ? WHERE id = ?`, status, power, id)
	if err != nil {
		return fmt.Errorf("store: update equipment status/power: %w", err)
	}
	return nil
}

// SetThreshold persists a device's power-alarm threshold in watts.
func (s *Store) SetThreshold(id string, watts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE equipment SET threshold_watts = ? WHERE id = ?`, watts, id)
	if err != nil {
		return fmt.Errorf("store: set threshold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set threshold rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendStatusLog writes one audit row recording a status/power change.
func (s *Store) AppendStatusLog(deviceID, status, power string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO status_log (device_id, status, power, at) VALUES (?, ?, ?, ?)`,
		deviceID, status, power, at)
	if err != nil {
		return fmt.Errorf("store: append status log: %w", err)
	}
	return nil
}

// Place is a row of the places table.
type Place struct {
	ID   string
	Name string
}

// PlaceWithDevices is a place joined with the ids of the devices located
// there, used by place_list_response.
type PlaceWithDevices struct {
	Place
	DeviceIDs []string
}

// InsertPlace provisions a new place row.
func (s *Store) InsertPlace(p Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO places (id, name) VALUES (?, ?)`, p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("store: insert place: %w", err)
	}
	return nil
}

// ListPlaces returns every place with its associated device ids.
func (s *Store) ListPlaces() ([]PlaceWithDevices, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, name FROM places ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list places: %w", err)
	}
	places := make(map[string]*PlaceWithDevices)
	var order []string
	for rows.Next() {
		var p Place
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: list places scan: %w", err)
		}
		places[p.ID] = &PlaceWithDevices{Place: p}
		order = append(order, p.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	devRows, err := s.db.Query(`SELECT place_id, id FROM equipment WHERE place_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list place devices: %w", err)
	}
	defer devRows.Close()
	for devRows.Next() {
		var placeID, deviceID string
		if err := devRows.Scan(&placeID, &deviceID); err != nil {
			return nil, fmt.Errorf("store: list place devices scan: %w", err)
		}
		if p, ok := places[placeID]; ok {
			p.DeviceIDs = append(p.DeviceIDs, deviceID)
		}
	}

	out := make([]PlaceWithDevices, 0, len(order))
	for _, id := range order {
		out = append(out, *places[id])
	}
	return out, devRows.Err()
}

// Reservation is a row of the reservations table.
type Reservation struct {
	ID      int64
	PlaceID string
	UserID  string
	StartAt time.Time
	EndAt   time.Time
	Purpose string
	Status  string
}

// OverlappingReservations returns every non-rejected reservation for
// placeID whose interval intersects [start, end).
func (s *Store) OverlappingReservations(placeID string, start, end time.Time) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, place_id, user_id, start_at, end_at, purpose, status
		FROM reservations
		WHERE place_id = ? AND status != 'rejected' AND start_at < ? AND end_at > ?
	`, placeID, end, start)
	if err != nil {
		return nil, fmt.Errorf("store: overlapping reservations: %w", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

// InsertReservation inserts a new pending reservation row and returns its
// id.
func (s *Store) InsertReservation(placeID, userID string, start, end time.Time, purpose string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO reservations (place_id, user_id, start_at, end_at, purpose, status)
		VALUES (?, ?, ?, ?, ?, 'pending')
	`, placeID, userID, start, end, purpose)
	if err != nil {
		return 0, fmt.Errorf("store: insert reservation: %w", err)
	}
	return res.LastInsertId()
}

// ReservationsForPlace returns reservations for placeID, or across all
// places when placeID is "". Callers pass the role-derived user ids to
// keep: a nil userIDs applies no user filter (admin sees everything), and
// an empty non-nil slice matches nothing.
func (s *Store) ReservationsForPlace(placeID string, userIDs []string) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, place_id, user_id, start_at, end_at, purpose, status FROM reservations WHERE 1=1`
	args := []any{}
	if placeID != "" {
		query += ` AND place_id = ?`
		args = append(args, placeID)
	}
	if userIDs != nil {
		if len(userIDs) == 0 {
			return nil, nil
		}
		query += ` AND user_id IN (` + placeholders(len(userIDs)) + `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY start_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: reservations for place: %w", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

func scanReservations(rows *sql.Rows) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.PlaceID, &r.UserID, &r.StartAt, &r.EndAt, &r.Purpose, &r.Status); err != nil {
			return nil, fmt.Errorf("store: scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

// UpdateReservationStatus sets a reservation's status, scoped to
// (id, place_id) as the caller's subject_id names the place. Returns
// ErrNotFound if no row matches both.
func (s *Store) UpdateReservationStatus(id int64, placeID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE reservations SET status = ? WHERE id = ? AND place_id = ?`, status, id, placeID)
	if err != nil {
		return fmt.Errorf("store: update reservation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update reservation rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEnergyLog records one power reading bucketed to the minute.
func (s *Store) InsertEnergyLog(deviceID string, watts float64, bucket time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO energy_log (device_id, watts, bucket) VALUES (?, ?, ?)`,
		deviceID, watts, bucket)
	if err != nil {
		return fmt.Errorf("store: insert energy log: %w", err)
	}
	return nil
}

// EnergyBucket is one aggregated row for energy_records.
type EnergyBucket struct {
	DeviceID string
	Bucket   time.Time
	Watts    float64
}

// maxEnergyRows bounds the result of an energy_query so handler work stays
// within the bounded-CPU guarantee of §5.
const maxEnergyRows = 500

// AggregateEnergy returns per-bucket average watts for deviceID, or across
// every device when deviceID is "all". bucketSeconds groups raw per-minute
// rows into coarser buckets (e.g. 3600 for hourly).
func (s *Store) AggregateEnergy(deviceID string, bucketSeconds int) ([]EnergyBucket, error) {
	if bucketSeconds <= 0 {
		bucketSeconds = 60
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT device_id,
		       datetime((strftime('%s', bucket) / ?) * ?, 'unixepoch') AS grouped_bucket,
		       AVG(watts) AS watts
		FROM energy_log
	`
	args := []any{bucketSeconds, bucketSeconds}
	if deviceID != "" && deviceID != "all" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` GROUP BY device_id, grouped_bucket ORDER BY grouped_bucket LIMIT ?`
	args = append(args, maxEnergyRows)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: aggregate energy: %w", err)
	}
	defer rows.Close()

	var out []EnergyBucket
	for rows.Next() {
		var b EnergyBucket
		var bucket string
		if err := rows.Scan(&b.DeviceID, &bucket, &b.Watts); err != nil {
			return nil, fmt.Errorf("store: aggregate energy scan: %w", err)
		}
		// datetime(..., 'unixepoch') yields plain UTC text, not a typed column.
		b.Bucket, err = time.Parse("2006-01-02 15:04:05", bucket)
		if err != nil {
			return nil, fmt.Errorf("store: aggregate energy bucket %q: %w", bucket, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Alarm is a row of the alarms table.
type Alarm struct {
	ID             int64
	DeviceID       string
	Watts          float64
	ThresholdWatts float64
	At             time.Time
	Acknowledged   bool
}

// InsertAlarm records a threshold breach and returns the new alarm's id.
func (s *Store) InsertAlarm(deviceID string, watts, threshold float64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO alarms (device_id, watts, threshold_watts, at, acknowledged)
		VALUES (?, ?, ?, ?, 0)
	`, deviceID, watts, threshold, at)
	if err != nil {
		return 0, fmt.Errorf("store: insert alarm: %w", err)
	}
	return res.LastInsertId()
}

// UnacknowledgedAlarms returns every alarm row with acknowledged = 0.
func (s *Store) UnacknowledgedAlarms() ([]Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, device_id, watts, threshold_watts, at, acknowledged
		FROM alarms WHERE acknowledged = 0 ORDER BY at
	`)
	if err != nil {
		return nil, fmt.Errorf("store: unacknowledged alarms: %w", err)
	}
	defer rows.Close()

	var out []Alarm
	for rows.Next() {
		var a Alarm
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Watts, &a.ThresholdWatts, &a.At, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("store: unacknowledged alarms scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AckAlarm marks an alarm acknowledged. Returns ErrNotFound if absent.
func (s *Store) AckAlarm(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE alarms SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: ack alarm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: ack alarm rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
