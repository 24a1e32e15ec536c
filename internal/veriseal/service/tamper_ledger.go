package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/veriseal/server/internal/veriseal/audit"
	"github.com/veriseal/server/internal/veriseal/shipment"
)

var tamperKindPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// TamperReport is a device's already-classified tamper observation.
type TamperReport struct {
	Kind          string
	DetectedAt    time.Time
	SensorPayload shipment.Blob
}

// TamperLedger accepts tamper reports from bound devices. A report marks
// the package tampered for good but never changes its status; that
// happens at the next checkpoint scan.
type TamperLedger struct {
	d Deps
}

func NewTamperLedger(d Deps) *TamperLedger {
	return &TamperLedger{d: d.withDefaults()}
}

// NormalizeTamperKind lower-cases kind and checks it is a short slug such
// as "shock" or "seal-broken".
func NormalizeTamperKind(kind string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(kind))
	if !tamperKindPattern.MatchString(k) {
		return "", shipment.ErrInvalidTamperKind
	}
	return k, nil
}

func (l *TamperLedger) ReportTamper(ctx context.Context, token, deviceID string, rep TamperReport) (shipment.TamperEvent, error) {
	ctx, span := l.d.tracer().Start(ctx, "TamperLedger.ReportTamper")
	defer span.End()

	ev, pkgID, err := l.report(ctx, token, deviceID, rep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return shipment.TamperEvent{}, err
	}
	span.SetAttributes(attribute.String("package.id", pkgID), attribute.String("tamper.kind", ev.Kind))
	return ev, nil
}

func (l *TamperLedger) report(ctx context.Context, token, deviceID string, rep TamperReport) (shipment.TamperEvent, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return shipment.TamperEvent{}, "", ErrTokenRequired
	}
	kind, err := NormalizeTamperKind(rep.Kind)
	if err != nil {
		return shipment.TamperEvent{}, "", err
	}

	p, err := l.d.Store.FindByToken(ctx, token)
	if err != nil {
		return shipment.TamperEvent{}, "", err
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || deviceID != p.DeviceID {
		return shipment.TamperEvent{}, "", shipment.ErrDeviceMismatch
	}

	now := l.d.now()
	detected := rep.DetectedAt.UTC().Truncate(time.Millisecond)
	if rep.DetectedAt.IsZero() {
		detected = now
	}

	ev := shipment.TamperEvent{
		EventID:           uuid.NewString(),
		DetectedAt:        detected,
		Kind:              kind,
		SensorPayload:     rep.SensorPayload.Clone(),
		ReportingDeviceID: deviceID,
		ReceivedAt:        now,
	}
	// The store re-checks the device binding inside its own critical section.
	if err := l.d.Store.AppendTamperEvent(ctx, token, ev); err != nil {
		return shipment.TamperEvent{}, "", err
	}

	l.d.Metrics.TamperReports.WithLabelValues(kind).Inc()
	l.d.Audit.Submit(audit.Record{
		Kind:      audit.KindTamperReported,
		PackageID: p.ID,
		Actor:     deviceID,
		Detail:    kind,
		At:        detected,
	})
	return ev, p.ID, nil
}

// EventsInWindow answers "was this package tampered with since checkpoint
// X": the events with after < DetectedAt <= upTo.
func EventsInWindow(events []shipment.TamperEvent, after, upTo time.Time) []shipment.TamperEvent {
	return shipment.TampersInWindow(events, after, upTo)
}
