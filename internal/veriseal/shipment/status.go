package shipment

import (
	"fmt"
	"strings"
)

// Status is the authoritative lifecycle state of a package.
type Status string

const (
	StatusCreated           Status = "created"
	StatusInTransit         Status = "in_transit"
	StatusAtCheckpoint      Status = "at_checkpoint"
	StatusCheckpointFailed  Status = "checkpoint_failed"
	StatusDelivered         Status = "delivered"
	StatusReturningToSender Status = "returning_to_sender"
	StatusReturnCompleted   Status = "return_completed"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusInTransit, StatusAtCheckpoint, StatusCheckpointFailed,
		StatusDelivered, StatusReturningToSender, StatusReturnCompleted:
		return true
	}
	return false
}

// Terminal reports whether the package can no longer move forward.
// A returning package may still reach StatusReturnCompleted, but only via
// the explicit return-completion transition, never via a checkpoint scan.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusReturningToSender, StatusReturnCompleted:
		return true
	}
	return false
}

// CanTransition is the monotone transition table. Nothing leaves a terminal
// state except returning_to_sender -> return_completed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == StatusReturningToSender {
		return to == StatusReturnCompleted
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusInTransit, StatusAtCheckpoint, StatusCheckpointFailed,
		StatusDelivered, StatusReturningToSender:
		return true
	}
	return false
}

// Decision is the outcome recorded for a checkpoint scan.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionReturn  Decision = "return"
)

func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", ErrInvalidDecision
	}
	return d, nil
}

func (d Decision) Valid() bool {
	return d == DecisionProceed || d == DecisionReturn
}

// TamperCheck records whether the tamper window was clean at scan time.
type TamperCheck string

const (
	TamperCheckPassed TamperCheck = "passed"
	TamperCheckFailed TamperCheck = "failed"
)

func (t TamperCheck) Valid() bool {
	return t == TamperCheckPassed || t == TamperCheckFailed
}
