package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/veriseal/server/internal/veriseal/audit"
	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/store"
)

type PackageConfig struct {
	// MaxIssueAttempts bounds token/id regeneration on collision. Defaults to 5.
	MaxIssueAttempts int

	// MaxTransitionAttempts bounds re-evaluation after a lost
	// compare-and-set. Defaults to 5.
	MaxTransitionAttempts int

	// BcryptCost for verification codes. Defaults to bcrypt.DefaultCost.
	BcryptCost int

	// ListLimit caps ListPackages when the caller asks for more or for
	// everything. Defaults to 100.
	ListLimit int
}

func (c PackageConfig) withDefaults() PackageConfig {
	if c.MaxIssueAttempts <= 0 {
		c.MaxIssueAttempts = 5
	}
	if c.MaxTransitionAttempts <= 0 {
		c.MaxTransitionAttempts = 5
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.ListLimit <= 0 {
		c.ListLimit = 100
	}
	return c
}

type CreateRequest struct {
	SenderID string
	DeviceID string
	Metadata shipment.Metadata
}

// CreateResult carries the only copy of the plaintext verification code.
type CreateResult struct {
	Package          shipment.Package
	VerificationCode string
}

type ScanRequest struct {
	Token        string
	CheckpointID string
	ScannedBy    string
	// DeviceID, when set, must match the package's bound device.
	DeviceID       string
	ScannedAt      time.Time
	Decision       shipment.Decision
	SensorSnapshot shipment.Blob
	Notes          string
}

type ScanResult struct {
	PackageID     string
	Entry         shipment.CheckpointEntry
	Status        shipment.Status
	WindowTampers []shipment.TamperEvent
	Attempts      int
}

// PublicInfo is what anyone holding the token may see before verifying.
type PublicInfo struct {
	PackageID             string          `json:"package_id"`
	Status                shipment.Status `json:"status"`
	PackageType           string          `json:"package_type,omitempty"`
	CurrentCheckpointID   string          `json:"current_checkpoint_id,omitempty"`
	CurrentCheckpointName string          `json:"current_checkpoint_name,omitempty"`
	ReceiverPhone         string          `json:"receiver_phone,omitempty"`
	IsTampered            bool            `json:"is_tampered"`
	Authenticated         bool            `json:"authenticated"`
	CreatedAt             time.Time       `json:"created_at"`
}

// PackageSummary is one row of a sender listing.
type PackageSummary struct {
	PackageID           string            `json:"package_id"`
	Token               string            `json:"token"`
	Status              shipment.Status   `json:"status"`
	IsTampered          bool              `json:"is_tampered"`
	CurrentCheckpointID string            `json:"current_checkpoint_id,omitempty"`
	CheckpointCount     int               `json:"checkpoint_count"`
	Metadata            shipment.Metadata `json:"metadata"`
	CreatedAt           time.Time         `json:"created_at"`
}

type PackageService struct {
	d   Deps
	cfg PackageConfig
}

func NewPackageService(d Deps, cfg PackageConfig) *PackageService {
	return &PackageService{d: d.withDefaults(), cfg: cfg.withDefaults()}
}

// Registry returns the checkpoint registry the service scans against.
func (s *PackageService) Registry() *CheckpointRegistry {
	return s.d.Registry
}

func (s *PackageService) CreatePackage(ctx context.Context, req CreateRequest) (CreateResult, error) {
	ctx, span := s.d.tracer().Start(ctx, "PackageService.CreatePackage")
	defer span.End()

	res, err := s.create(ctx, req, "", "", time.Time{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CreateResult{}, err
	}
	span.SetAttributes(attribute.String("package.id", res.Package.ID))
	return res, nil
}

// create registers a package. A non-empty token or code pins that value
// instead of issuing one; createdAt overrides the clock when non-zero.
func (s *PackageService) create(ctx context.Context, req CreateRequest, token, code string, createdAt time.Time) (CreateResult, error) {
	req.SenderID = strings.TrimSpace(req.SenderID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.SenderID == "" {
		return CreateResult{}, ErrSenderRequired
	}
	if req.DeviceID == "" {
		return CreateResult{}, ErrDeviceRequired
	}

	var err error
	if code == "" {
		if code, err = s.d.Issuer.IssueVerificationCode(); err != nil {
			return CreateResult{}, err
		}
	}
	if !ValidCode(code) {
		return CreateResult{}, fmt.Errorf("issued verification code is malformed")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
	if err != nil {
		return CreateResult{}, fmt.Errorf("hash verification code: %w", err)
	}

	now := s.d.now()
	if createdAt.IsZero() {
		createdAt = now
	}

	pinned := token != ""
	for attempt := 1; attempt <= s.cfg.MaxIssueAttempts; attempt++ {
		tok := token
		if !pinned {
			if tok, err = s.freshToken(ctx); err != nil {
				return CreateResult{}, err
			}
			if tok == "" {
				continue
			}
		}
		id, err := s.freshID(ctx, createdAt)
		if err != nil {
			return CreateResult{}, err
		}
		if id == "" {
			continue
		}

		pkg := shipment.Package{
			ID:                   id,
			Token:                tok,
			VerificationCodeHash: hash,
			DeviceID:             req.DeviceID,
			SenderID:             req.SenderID,
			Status:               shipment.StatusCreated,
			Metadata:             req.Metadata,
			CreatedAt:            createdAt,
			UpdatedAt:            now,
		}
		err = s.d.Store.CreatePackage(ctx, pkg)
		switch {
		case err == nil:
			s.d.Metrics.PackagesCreated.Inc()
			s.d.Audit.Submit(audit.Record{
				Kind:      audit.KindPackageCreated,
				PackageID: id,
				Status:    string(shipment.StatusCreated),
				Actor:     req.SenderID,
				At:        now,
			})
			s.notify(ctx, pkg, code)
			return CreateResult{Package: pkg, VerificationCode: code}, nil
		case errors.Is(err, shipment.ErrDuplicateToken) && pinned:
			return CreateResult{}, err
		case errors.Is(err, shipment.ErrDuplicateToken), errors.Is(err, shipment.ErrDuplicateID):
			continue
		default:
			return CreateResult{}, err
		}
	}
	return CreateResult{}, shipment.ErrIssuerExhausted
}

// freshToken returns "" when the issued token is already taken.
func (s *PackageService) freshToken(ctx context.Context) (string, error) {
	tok, err := s.d.Issuer.IssueToken()
	if err != nil {
		return "", err
	}
	if _, err := s.d.Store.FindByToken(ctx, tok); err == nil {
		return "", nil
	} else if !errors.Is(err, shipment.ErrNotFound) {
		return "", err
	}
	return tok, nil
}

// freshID returns "" when the issued id is already taken.
func (s *PackageService) freshID(ctx context.Context, now time.Time) (string, error) {
	id, err := s.d.Issuer.IssuePackageID(now)
	if err != nil {
		return "", err
	}
	if _, err := s.d.Store.FindByID(ctx, id); err == nil {
		return "", nil
	} else if !errors.Is(err, shipment.ErrNotFound) {
		return "", err
	}
	return id, nil
}

// notify is best effort; the package exists whether or not the receiver
// hears about it.
func (s *PackageService) notify(ctx context.Context, pkg shipment.Package, code string) {
	err := s.d.Notifier.NotifyReceiver(ctx, Notification{
		PackageID:        pkg.ID,
		ReceiverPhone:    pkg.Metadata.ReceiverPhone,
		VerificationCode: code,
	})
	if err != nil {
		s.d.Logger.Printf("notify receiver for %s: %v", pkg.ID, err)
	}
}

// ScanCheckpoint records an operator scan. Tamper events detected since
// the previous checkpoint force the package back to the sender whatever
// the operator chose. The decision is committed with a compare-and-set on
// the package's status and revision; on a lost race the whole evaluation
// runs again against fresh state.
func (s *PackageService) ScanCheckpoint(ctx context.Context, req ScanRequest) (ScanResult, error) {
	ctx, span := s.d.tracer().Start(ctx, "PackageService.ScanCheckpoint",
		trace.WithAttributes(attribute.String("checkpoint.id", req.CheckpointID)))
	defer span.End()

	started := time.Now()
	res, err := s.scan(ctx, req)
	s.d.Metrics.ScanDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ScanResult{}, err
	}
	span.SetAttributes(
		attribute.String("package.id", res.PackageID),
		attribute.String("scan.decision", string(res.Entry.Decision)),
		attribute.Int("scan.attempts", res.Attempts),
	)
	return res, nil
}

func (s *PackageService) scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return ScanResult{}, ErrTokenRequired
	}
	if !req.Decision.Valid() {
		return ScanResult{}, shipment.ErrInvalidDecision
	}
	cp, ok := s.d.Registry.Lookup(req.CheckpointID)
	if !ok {
		return ScanResult{}, shipment.ErrUnknownCheckpoint
	}

	scannedAt := req.ScannedAt.UTC().Truncate(time.Millisecond)
	if req.ScannedAt.IsZero() {
		scannedAt = s.d.now()
	}
	deviceID := strings.TrimSpace(req.DeviceID)

	for attempt := 1; attempt <= s.cfg.MaxTransitionAttempts; attempt++ {
		j, err := s.d.Store.Journey(ctx, token)
		if err != nil {
			return ScanResult{}, err
		}
		p := j.Package

		if deviceID != "" && deviceID != p.DeviceID {
			return ScanResult{}, shipment.ErrDeviceMismatch
		}
		if p.Status.Terminal() {
			return ScanResult{}, shipment.ErrAlreadyTerminal
		}
		last := j.LastCheckpointTime()
		if !scannedAt.After(last) {
			return ScanResult{}, shipment.ErrOutOfOrder
		}

		window := shipment.TampersInWindow(j.Tampers, last, scannedAt)
		out, err := shipment.Evaluate(p.Status, cp.Stop(), req.Decision, window)
		if err != nil {
			return ScanResult{}, err
		}

		entry := shipment.CheckpointEntry{
			EntryID:          uuid.NewString(),
			CheckpointID:     cp.ID,
			ScannedBy:        strings.TrimSpace(req.ScannedBy),
			ScannedAt:        scannedAt,
			Decision:         out.Decision,
			OperatorDecision: req.Decision,
			TamperCheck:      out.TamperCheck,
			SensorSnapshot:   req.SensorSnapshot.Clone(),
			Notes:            req.Notes,
		}
		err = s.d.Store.CommitCheckpoint(ctx, shipment.Transition{
			Token:            token,
			ExpectedStatus:   p.Status,
			ExpectedRevision: p.Revision,
			Entry:            entry,
			NewStatus:        out.Status,
		})
		if errors.Is(err, shipment.ErrConflict) {
			s.d.Metrics.ScanConflicts.Inc()
			continue
		}
		if err != nil {
			return ScanResult{}, err
		}

		s.d.Metrics.Scans.WithLabelValues(string(out.Decision), string(out.TamperCheck)).Inc()
		s.d.Audit.Submit(audit.Record{
			Kind:         audit.KindCheckpointDecision,
			PackageID:    p.ID,
			CheckpointID: cp.ID,
			Decision:     string(out.Decision),
			TamperCheck:  string(out.TamperCheck),
			Status:       string(out.Status),
			Actor:        entry.ScannedBy,
			At:           scannedAt,
		})
		return ScanResult{
			PackageID:     p.ID,
			Entry:         entry,
			Status:        out.Status,
			WindowTampers: window,
			Attempts:      attempt,
		}, nil
	}
	return ScanResult{}, shipment.ErrBusy
}

// CompleteReturn closes out a package that has made it back to the
// sender.
func (s *PackageService) CompleteReturn(ctx context.Context, token, actor string) (shipment.Package, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return shipment.Package{}, ErrTokenRequired
	}

	p, err := s.d.Store.FindByToken(ctx, token)
	if err != nil {
		return shipment.Package{}, err
	}
	if p.Status != shipment.StatusReturningToSender {
		return shipment.Package{}, shipment.ErrNotReturning
	}

	err = s.d.Store.SetStatus(ctx, token, shipment.StatusReturningToSender, shipment.StatusReturnCompleted)
	if errors.Is(err, shipment.ErrConflict) {
		// Someone else completed it first.
		return shipment.Package{}, shipment.ErrNotReturning
	}
	if err != nil {
		return shipment.Package{}, err
	}

	now := s.d.now()
	s.d.Audit.Submit(audit.Record{
		Kind:      audit.KindReturnCompleted,
		PackageID: p.ID,
		Status:    string(shipment.StatusReturnCompleted),
		Actor:     strings.TrimSpace(actor),
		At:        now,
	})

	p.Status = shipment.StatusReturnCompleted
	p.UpdatedAt = now
	return p, nil
}

func (s *PackageService) GetPublicInfo(ctx context.Context, token string) (PublicInfo, error) {
	p, err := s.d.Store.FindByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return PublicInfo{}, err
	}
	info := PublicInfo{
		PackageID:           p.ID,
		Status:              p.Status,
		PackageType:         p.Metadata.PackageType,
		CurrentCheckpointID: p.CurrentCheckpointID,
		ReceiverPhone:       MaskPhone(p.Metadata.ReceiverPhone),
		IsTampered:          p.IsTampered,
		Authenticated:       p.Authenticated,
		CreatedAt:           p.CreatedAt,
	}
	if cp, ok := s.d.Registry.Lookup(p.CurrentCheckpointID); ok {
		info.CurrentCheckpointName = cp.Name
	}
	return info, nil
}

// ListPackages backs the sender dashboard.
func (s *PackageService) ListPackages(ctx context.Context, f store.ListFilter) ([]PackageSummary, error) {
	if f.Limit <= 0 || f.Limit > s.cfg.ListLimit {
		f.Limit = s.cfg.ListLimit
	}
	pkgs, err := s.d.Store.ListPackages(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]PackageSummary, 0, len(pkgs))
	for _, p := range pkgs {
		j, err := s.d.Store.Journey(ctx, p.Token)
		if err != nil {
			return nil, err
		}
		out = append(out, PackageSummary{
			PackageID:           p.ID,
			Token:               p.Token,
			Status:              j.Package.Status,
			IsTampered:          j.Package.IsTampered,
			CurrentCheckpointID: j.Package.CurrentCheckpointID,
			CheckpointCount:     len(j.Checkpoints),
			Metadata:            p.Metadata,
			CreatedAt:           p.CreatedAt,
		})
	}
	return out, nil
}
