package service

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/veriseal/server/internal/veriseal/store"
)

var (
	ErrDeviceRequired = errors.New("device_id is required")
	ErrSenderRequired = errors.New("sender_id is required")
	ErrTokenRequired  = errors.New("token is required")
)

const tracerName = "github.com/veriseal/server/internal/veriseal/service"

// Deps are the collaborators shared by the package service, the tamper
// ledger and the verification gate. Only Store is required.
type Deps struct {
	Store    store.PackageStore
	Registry *CheckpointRegistry
	Issuer   *Issuer
	Audit    *AuditDispatcher
	Notifier Notifier
	Metrics  *Metrics
	Logger   *log.Logger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Registry == nil {
		d.Registry = DefaultCheckpointRegistry()
	}
	if d.Issuer == nil {
		d.Issuer = NewIssuer(nil)
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	if d.Notifier == nil {
		d.Notifier = NewLogNotifier(d.Logger)
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

func (d Deps) tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// now returns the injected clock reading at the millisecond precision the
// stores persist.
func (d Deps) now() time.Time {
	return d.Now().UTC().Truncate(time.Millisecond)
}
