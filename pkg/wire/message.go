package wire

import "strings"

// JoinRecords joins a slice of already-comma-joined records with ';', the
// convention used by reservation_records, energy_records, alarm_records,
// and place_list_response (see SPEC_FULL.md §6). An empty slice yields "".
func JoinRecords(records []string) string {
	return strings.Join(records, ";")
}

// SplitRecords splits a ';'-joined record list back into individual
// records. An empty string yields an empty (not nil-but-one-element)
// slice.
func SplitRecords(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}
