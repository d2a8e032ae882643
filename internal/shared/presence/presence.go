// Package presence holds the liveness rule shared by the relay store and the
// client roster so both report "lost" members identically.
package presence

import "time"

type Status string

const (
	Online  Status = "online"
	Bridged Status = "bridged"
	Lost    Status = "lost"
)

// StaleAfter is how long a member may stay silent before it is reported lost.
const StaleAfter = 15 * time.Minute

// Stale reports whether last is older than StaleAfter relative to now.
func Stale(last, now time.Time) bool {
	return now.Sub(last) > StaleAfter
}

// Derive returns Lost for stale records and the stored status otherwise.
func Derive(stored Status, last, now time.Time) Status {
	if Stale(last, now) {
		return Lost
	}
	return stored
}

// Writable reports whether s may be persisted. Lost is derived, never written.
func Writable(s Status) bool {
	return s == Online || s == Bridged
}
