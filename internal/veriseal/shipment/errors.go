package shipment

import "errors"

var (
	ErrNotFound          = errors.New("package not found")
	ErrDuplicateToken    = errors.New("package token already issued")
	ErrDuplicateID       = errors.New("package id already issued")
	ErrDeviceMismatch    = errors.New("device is not bound to this package")
	ErrInvalidCode       = errors.New("verification code does not match")
	ErrAlreadyTerminal   = errors.New("package is already in a terminal state")
	ErrConflict          = errors.New("package changed since it was read")
	ErrBusy              = errors.New("package is busy, retry later")
	ErrOutOfOrder        = errors.New("scan time is not after the last recorded checkpoint")
	ErrUnknownCheckpoint = errors.New("checkpoint is not in the registry")
	ErrInvalidDecision   = errors.New("decision must be proceed or return")
	ErrInvalidTamperKind = errors.New("tamper kind is required")
	ErrIssuerExhausted   = errors.New("could not issue a unique identifier")
	ErrNotReturning      = errors.New("package is not returning to sender")
	ErrInvalidTransition = errors.New("status transition is not allowed")
)
