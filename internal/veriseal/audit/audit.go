// Package audit keeps a tamper-evident record of lifecycle decisions.
//
// Every Record is appended to a Chain, which links it to the previous
// entry by hash, and is then fanned out to zero or more Sinks.
package audit

import (
	"context"
	"time"
)

type Kind string

const (
	KindPackageCreated     Kind = "package_created"
	KindCheckpointDecision Kind = "checkpoint_decision"
	KindTamperReported     Kind = "tamper_reported"
	KindReturnCompleted    Kind = "return_completed"
)

// Record is what the engine reports. It never carries the package token
// or the verification code.
type Record struct {
	Kind         Kind      `json:"kind"`
	PackageID    string    `json:"package_id"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Decision     string    `json:"decision,omitempty"`
	TamperCheck  string    `json:"tamper_check,omitempty"`
	Status       string    `json:"status,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// Entry is a Record after it has been placed on the chain.
type Entry struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`
	Record
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash,omitempty"`
}

// Sink receives chained entries. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Reader reads entries back from a sink.
type Reader interface {
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Last returns the newest entry r holds; ok is false when it holds none.
func Last(ctx context.Context, r Reader) (e Entry, ok bool, err error) {
	es, err := r.Recent(ctx, 1)
	if err != nil || len(es) == 0 {
		return Entry{}, false, err
	}
	return es[0], true, nil
}
