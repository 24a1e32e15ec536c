package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/store"
)

type record struct {
	mu          sync.Mutex
	pkg         shipment.Package
	checkpoints []shipment.CheckpointEntry
	tampers     []shipment.TamperEvent
}

// PackageStore keeps packages in process memory. The index lock is held
// only long enough to resolve a token; all per-package work happens under
// that package's own mutex, so different packages never wait on each other.
type PackageStore struct {
	mu      sync.RWMutex
	byToken map[string]*record
	byID    map[string]string // id -> token
}

func NewPackageStore() *PackageStore {
	return &PackageStore{
		byToken: make(map[string]*record),
		byID:    make(map[string]string),
	}
}

var _ store.PackageStore = (*PackageStore)(nil)

func (s *PackageStore) lookup(token string) (*record, error) {
	s.mu.RLock()
	r, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok {
		return nil, shipment.ErrNotFound
	}
	return r, nil
}

func (s *PackageStore) CreatePackage(ctx context.Context, pkg shipment.Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byToken[pkg.Token]; ok {
		return shipment.ErrDuplicateToken
	}
	if _, ok := s.byID[pkg.ID]; ok {
		return shipment.ErrDuplicateID
	}

	now := time.Now().UTC()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	if pkg.UpdatedAt.IsZero() {
		pkg.UpdatedAt = pkg.CreatedAt
	}
	if pkg.Status == "" {
		pkg.Status = shipment.StatusCreated
	}
	pkg.VerificationCodeHash = append([]byte(nil), pkg.VerificationCodeHash...)

	s.byToken[pkg.Token] = &record{pkg: pkg}
	s.byID[pkg.ID] = pkg.Token
	return nil
}

func (s *PackageStore) FindByToken(ctx context.Context, token string) (shipment.Package, error) {
	if err := ctx.Err(); err != nil {
		return shipment.Package{}, err
	}
	r, err := s.lookup(token)
	if err != nil {
		return shipment.Package{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePackage(r.pkg), nil
}

func (s *PackageStore) FindByID(ctx context.Context, id string) (shipment.Package, error) {
	s.mu.RLock()
	token, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return shipment.Package{}, shipment.ErrNotFound
	}
	return s.FindByToken(ctx, token)
}

func (s *PackageStore) ListPackages(ctx context.Context, f store.ListFilter) ([]shipment.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	recs := make([]*record, 0, len(s.byToken))
	for _, r := range s.byToken {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	sender := strings.TrimSpace(f.SenderID)
	out := make([]shipment.Package, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		p := clonePackage(r.pkg)
		r.mu.Unlock()
		if sender != "" && p.SenderID != sender {
			continue
		}
		out = append(out, p)
	}

	// Newest first, id as a stable tie-break.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *PackageStore) Journey(ctx context.Context, token string) (shipment.Journey, error) {
	if err := ctx.Err(); err != nil {
		return shipment.Journey{}, err
	}
	r, err := s.lookup(token)
	if err != nil {
		return shipment.Journey{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	j := shipment.Journey{
		Package:     clonePackage(r.pkg),
		Checkpoints: make([]shipment.CheckpointEntry, len(r.checkpoints)),
		Tampers:     make([]shipment.TamperEvent, len(r.tampers)),
	}
	for i, e := range r.checkpoints {
		e.SensorSnapshot = e.SensorSnapshot.Clone()
		j.Checkpoints[i] = e
	}
	for i, ev := range r.tampers {
		ev.SensorPayload = ev.SensorPayload.Clone()
		j.Tampers[i] = ev
	}
	return j, nil
}

func (s *PackageStore) AppendCheckpoint(ctx context.Context, token string, entry shipment.CheckpointEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.lookup(token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := shipment.CheckAppend(r.checkpoints, entry); err != nil {
		return err
	}
	r.appendCheckpoint(entry)
	return nil
}

func (s *PackageStore) AppendTamperEvent(ctx context.Context, token string, ev shipment.TamperEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.lookup(token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.ReportingDeviceID != r.pkg.DeviceID {
		return shipment.ErrDeviceMismatch
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	ev.SensorPayload = ev.SensorPayload.Clone()

	r.tampers = append(r.tampers, ev)
	r.pkg.IsTampered = true
	r.pkg.Revision++
	r.pkg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *PackageStore) SetStatus(ctx context.Context, token string, expected, next shipment.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.lookup(token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pkg.Status != expected {
		return shipment.ErrConflict
	}
	r.pkg.Status = next
	r.pkg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *PackageStore) CommitCheckpoint(ctx context.Context, tr shipment.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.lookup(tr.Token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pkg.Status != tr.ExpectedStatus || r.pkg.Revision != tr.ExpectedRevision {
		return shipment.ErrConflict
	}
	if err := shipment.CheckAppend(r.checkpoints, tr.Entry); err != nil {
		return err
	}
	r.appendCheckpoint(tr.Entry)
	r.pkg.Status = tr.NewStatus
	return nil
}

func (s *PackageStore) MarkAuthenticated(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.lookup(token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pkg.Authenticated {
		r.pkg.Authenticated = true
		r.pkg.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// appendCheckpoint must be called with r.mu held.
func (r *record) appendCheckpoint(entry shipment.CheckpointEntry) {
	entry.SensorSnapshot = entry.SensorSnapshot.Clone()
	r.checkpoints = append(r.checkpoints, entry)
	r.pkg.CurrentCheckpointID = entry.CheckpointID
	r.pkg.Revision++
	r.pkg.UpdatedAt = time.Now().UTC()
}

func clonePackage(p shipment.Package) shipment.Package {
	p.VerificationCodeHash = append([]byte(nil), p.VerificationCodeHash...)
	return p
}
