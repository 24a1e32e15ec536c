package shipment

import "time"

// LastCheckpointTime is the lower bound of the next tamper window: the
// newest scan time, or the creation time when nothing was scanned yet.
func (j Journey) LastCheckpointTime() time.Time {
	if n := len(j.Checkpoints); n > 0 {
		return j.Checkpoints[n-1].ScannedAt
	}
	return j.Package.CreatedAt
}

// HasReturn reports whether any entry already sent the package back.
func (j Journey) HasReturn() bool {
	for _, e := range j.Checkpoints {
		if e.Decision == DecisionReturn {
			return true
		}
	}
	return false
}

// TampersInWindow returns the events with after < DetectedAt <= upTo.
func TampersInWindow(events []TamperEvent, after, upTo time.Time) []TamperEvent {
	var out []TamperEvent
	for _, ev := range events {
		if ev.DetectedAt.After(after) && !ev.DetectedAt.After(upTo) {
			out = append(out, ev)
		}
	}
	return out
}

// CheckAppend validates that entry may follow existing in an append-only
// journey: strictly increasing ScannedAt, and no proceed once a return has
// been recorded.
func CheckAppend(existing []CheckpointEntry, entry CheckpointEntry) error {
	if !entry.Decision.Valid() {
		return ErrInvalidDecision
	}
	if n := len(existing); n > 0 {
		if !entry.ScannedAt.After(existing[n-1].ScannedAt) {
			return ErrOutOfOrder
		}
	}
	if entry.Decision == DecisionProceed {
		for _, e := range existing {
			if e.Decision == DecisionReturn {
				return ErrAlreadyTerminal
			}
		}
	}
	return nil
}
