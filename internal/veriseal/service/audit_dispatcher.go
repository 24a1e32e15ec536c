package service

import (
	"context"
	"log"
	"time"

	"github.com/veriseal/server/internal/veriseal/audit"
)

// AuditDispatcher chains lifecycle records and fans them out to sinks on
// a background goroutine. Submitting never blocks the caller and sink
// failures never reach it: a decision that was committed stays committed.
//
// A nil *AuditDispatcher accepts and discards records.
type AuditDispatcher struct {
	chain       *audit.Chain
	sinks       []audit.Sink
	queue       chan audit.Record
	sinkTimeout time.Duration
	logger      *log.Logger
	metrics     *Metrics
	cancel      context.CancelFunc
	done        chan struct{}
}

// AuditConfig holds the parameters for NewAuditDispatcher.
type AuditConfig struct {
	// QueueSize bounds records waiting for the sinks. Defaults to 1024.
	QueueSize int

	// SinkTimeout bounds a single sink write. Defaults to 5s.
	SinkTimeout time.Duration
}

// NewAuditDispatcher creates a dispatcher but does not start it.
func NewAuditDispatcher(chain *audit.Chain, sinks []audit.Sink, cfg AuditConfig, logger *log.Logger, m *Metrics) *AuditDispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	if chain == nil {
		chain = audit.NewChain()
	}
	return &AuditDispatcher{
		chain:       chain,
		sinks:       sinks,
		queue:       make(chan audit.Record, cfg.QueueSize),
		sinkTimeout: cfg.SinkTimeout,
		logger:      logger,
		metrics:     m,
		done:        make(chan struct{}),
	}
}

// Start begins the dispatch loop. The loop exits when ctx is cancelled or
// Stop is called, after flushing whatever is already queued.
func (d *AuditDispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
	d.logger.Printf("audit dispatcher started (sinks=%d, queue=%d)", len(d.sinks), cap(d.queue))
}

// Stop signals the dispatcher to exit and waits for the flush.
func (d *AuditDispatcher) Stop() {
	if d == nil || d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// Chain exposes the hash chain for inspection.
func (d *AuditDispatcher) Chain() *audit.Chain {
	return d.chain
}

// Submit queues r. When the queue is full the record is dropped and
// counted.
func (d *AuditDispatcher) Submit(r audit.Record) {
	if d == nil {
		return
	}
	select {
	case d.queue <- r:
	default:
		d.metrics.AuditDropped.Inc()
		d.logger.Printf("audit queue full: dropped %s for %s", r.Kind, r.PackageID)
	}
}

func (d *AuditDispatcher) loop(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case r := <-d.queue:
			d.dispatch(r)
		}
	}
}

func (d *AuditDispatcher) flush() {
	for {
		select {
		case r := <-d.queue:
			d.dispatch(r)
		default:
			return
		}
	}
}

func (d *AuditDispatcher) dispatch(r audit.Record) {
	e, err := d.chain.Append(r)
	if err != nil {
		d.metrics.AuditWrites.WithLabelValues("error").Inc()
		d.logger.Printf("audit chain append error: %v", err)
		return
	}

	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := s.Write(ctx, e)
		cancel()
		if err != nil {
			d.metrics.AuditWrites.WithLabelValues("error").Inc()
			d.logger.Printf("audit sink error (seq=%d %s %s): %v", e.Seq, e.Kind, e.PackageID, err)
			continue
		}
		d.metrics.AuditWrites.WithLabelValues("ok").Inc()
	}
}
