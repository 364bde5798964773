package models

import "time"

// FailedAttemptRecord is the retained failure history for one identifier,
// oldest first.
type FailedAttemptRecord struct {
	Identifier string
	Timestamps []time.Time
}

// CountSince returns how many retained failures happened at or after cutoff.
func (r *FailedAttemptRecord) CountSince(cutoff time.Time) int {
	count := 0
	for _, ts := range r.Timestamps {
		if !ts.Before(cutoff) {
			count++
		}
	}
	return count
}
