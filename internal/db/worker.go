package db

import (
	"context"
	"database/sql"

	"github.com/cespare/xxhash/v2"
)

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker runs write transactions on a fixed set of lanes. Jobs with the
// same key always land on the same lane and run one at a time in
// submission order; different lanes run in parallel.
type Worker struct {
	db    *sql.DB
	lanes []chan job
	done  chan struct{}
}

func NewWorker(db *sql.DB, lanes int) *Worker {
	if lanes < 1 {
		lanes = 1
	}
	w := &Worker{
		db:    db,
		lanes: make([]chan job, lanes),
		done:  make(chan struct{}, lanes),
	}
	for i := range w.lanes {
		w.lanes[i] = make(chan job, 256)
		go w.loop(w.lanes[i])
	}
	return w
}

// Close drains queued jobs and waits for every lane to exit.
func (w *Worker) Close() {
	for _, l := range w.lanes {
		close(l)
	}
	for range w.lanes {
		<-w.done
	}
}

func (w *Worker) laneFor(key string) chan job {
	if len(w.lanes) == 1 {
		return w.lanes[0]
	}
	return w.lanes[xxhash.Sum64String(key)%uint64(len(w.lanes))]
}

// Do runs fn in a transaction on the lane owning key. fn's error rolls the
// transaction back; a nil return commits. Do returns only after a queued job
// has finished, so a nil error always means the transaction committed.
func (w *Worker) Do(ctx context.Context, key string, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	// Enqueue, bailing out if the caller's context expires while the lane is full.
	select {
	case w.laneFor(key) <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once queued the job's outcome is the answer, even if ctx expires
	// meanwhile. A job still queued when ctx ends is skipped by the lane;
	// one already running sees the cancellation through its statements.
	return <-ch
}

func (w *Worker) loop(jobs chan job) {
	defer func() { w.done <- struct{}{} }()

	for j := range jobs {
		if err := j.ctx.Err(); err != nil {
			j.ch <- err
			continue
		}

		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
