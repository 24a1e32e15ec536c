package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/veriseal/server/internal/db"
	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/store"
)

// PackageStore persists packages in SQLite or Postgres. Reads go straight
// to the pool; writes run on the worker lane owning the package token.
type PackageStore struct {
	db      *sql.DB
	dialect dbpkg.Dialect
	writer  *dbpkg.Worker
}

func NewPackageStore(db *sql.DB, dialect dbpkg.Dialect, writer *dbpkg.Worker) *PackageStore {
	return &PackageStore{db: db, dialect: dialect, writer: writer}
}

var _ store.PackageStore = (*PackageStore)(nil)

const packageColumns = `
  token, package_id, verification_code_hash, device_id, sender_id, status,
  current_checkpoint_id, is_tampered, authenticated, revision,
  order_id, package_type, receiver_phone, notes, created_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (shipment.Package, error) {
	var (
		p                    shipment.Package
		codeHash, status     string
		tampered, authed     int
		createdMs, updatedMs int64
	)
	err := row.Scan(
		&p.Token, &p.ID, &codeHash, &p.DeviceID, &p.SenderID, &status,
		&p.CurrentCheckpointID, &tampered, &authed, &p.Revision,
		&p.Metadata.OrderID, &p.Metadata.PackageType, &p.Metadata.ReceiverPhone, &p.Metadata.Notes,
		&createdMs, &updatedMs,
	)
	if err != nil {
		return shipment.Package{}, err
	}
	p.VerificationCodeHash = []byte(codeHash)
	p.Status = shipment.Status(status)
	p.IsTampered = tampered == 1
	p.Authenticated = authed == 1
	p.CreatedAt = time.UnixMilli(createdMs).UTC()
	p.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return p, nil
}

func (s *PackageStore) q(query string) string { return s.dialect.Rebind(query) }

func (s *PackageStore) CreatePackage(ctx context.Context, pkg shipment.Package) error {
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

	return s.writer.Do(ctx, pkg.Token, func(ctx context.Context, tx *sql.Tx) error {
		// Distinguish which key collided so the issuer knows what to regenerate.
		var n int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM packages WHERE token = ?;`), pkg.Token).Scan(&n); err != nil {
			return fmt.Errorf("CreatePackage check token: %w", err)
		}
		if n > 0 {
			return shipment.ErrDuplicateToken
		}
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM packages WHERE package_id = ?;`), pkg.ID).Scan(&n); err != nil {
			return fmt.Errorf("CreatePackage check id: %w", err)
		}
		if n > 0 {
			return shipment.ErrDuplicateID
		}

		_, err := tx.ExecContext(ctx, s.q(`
INSERT INTO packages(`+packageColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`),
			pkg.Token, pkg.ID, string(pkg.VerificationCodeHash), pkg.DeviceID, pkg.SenderID, string(pkg.Status),
			pkg.CurrentCheckpointID, boolInt(pkg.IsTampered), boolInt(pkg.Authenticated), pkg.Revision,
			pkg.Metadata.OrderID, pkg.Metadata.PackageType, pkg.Metadata.ReceiverPhone, pkg.Metadata.Notes,
			pkg.CreatedAt.UnixMilli(), pkg.UpdatedAt.UnixMilli(),
		)
		if dbpkg.IsUniqueViolation(err) {
			// Lost a race with another process on the same key.
			return shipment.ErrDuplicateToken
		}
		if err != nil {
			return fmt.Errorf("CreatePackage insert: %w", err)
		}
		return nil
	})
}

func (s *PackageStore) FindByToken(ctx context.Context, token string) (shipment.Package, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+packageColumns+` FROM packages WHERE token = ?;`), token)
	p, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shipment.Package{}, shipment.ErrNotFound
	}
	if err != nil {
		return shipment.Package{}, fmt.Errorf("FindByToken: %w", err)
	}
	return p, nil
}

func (s *PackageStore) FindByID(ctx context.Context, id string) (shipment.Package, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+packageColumns+` FROM packages WHERE package_id = ?;`), id)
	p, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shipment.Package{}, shipment.ErrNotFound
	}
	if err != nil {
		return shipment.Package{}, fmt.Errorf("FindByID: %w", err)
	}
	return p, nil
}

func (s *PackageStore) ListPackages(ctx context.Context, f store.ListFilter) ([]shipment.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages`
	var args []any
	if sender := strings.TrimSpace(f.SenderID); sender != "" {
		query += ` WHERE sender_id = ?`
		args = append(args, sender)
	}
	query += ` ORDER BY created_at_ms DESC, package_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query+";"), args...)
	if err != nil {
		return nil, fmt.Errorf("ListPackages query: %w", err)
	}
	defer rows.Close()

	out := make([]shipment.Package, 0, 16)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("ListPackages scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPackages rows: %w", err)
	}
	return out, nil
}

func (s *PackageStore) Journey(ctx context.Context, token string) (shipment.Journey, error) {
	p, err := s.FindByToken(ctx, token)
	if err != nil {
		return shipment.Journey{}, err
	}
	j := shipment.Journey{Package: p}

	j.Checkpoints, err = s.checkpoints(ctx, s.db, token)
	if err != nil {
		return shipment.Journey{}, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT event_id, kind, detected_at_ms, reporting_device_id, sensor_payload, received_at_ms
FROM tamper_events
WHERE token = ?
ORDER BY seq;
`), token)
	if err != nil {
		return shipment.Journey{}, fmt.Errorf("Journey tamper query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev                 shipment.TamperEvent
			detectedMs, recvMs int64
			payload            sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.Kind, &detectedMs, &ev.ReportingDeviceID, &payload, &recvMs); err != nil {
			return shipment.Journey{}, fmt.Errorf("Journey tamper scan: %w", err)
		}
		ev.DetectedAt = time.UnixMilli(detectedMs).UTC()
		ev.ReceivedAt = time.UnixMilli(recvMs).UTC()
		ev.SensorPayload = blobFrom(payload)
		j.Tampers = append(j.Tampers, ev)
	}
	if err := rows.Err(); err != nil {
		return shipment.Journey{}, fmt.Errorf("Journey tamper rows: %w", err)
	}
	return j, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PackageStore) checkpoints(ctx context.Context, qx querier, token string) ([]shipment.CheckpointEntry, error) {
	rows, err := qx.QueryContext(ctx, s.q(`
SELECT entry_id, checkpoint_id, scanned_by, scanned_at_ms, decision, operator_decision,
       tamper_check, sensor_snapshot, notes
FROM checkpoint_entries
WHERE token = ?
ORDER BY seq;
`), token)
	if err != nil {
		return nil, fmt.Errorf("checkpoints query: %w", err)
	}
	defer rows.Close()

	var out []shipment.CheckpointEntry
	for rows.Next() {
		var (
			e                        shipment.CheckpointEntry
			scannedMs                int64
			decision, opDecision, tc string
			snapshot                 sql.NullString
		)
		if err := rows.Scan(&e.EntryID, &e.CheckpointID, &e.ScannedBy, &scannedMs, &decision, &opDecision, &tc, &snapshot, &e.Notes); err != nil {
			return nil, fmt.Errorf("checkpoints scan: %w", err)
		}
		e.ScannedAt = time.UnixMilli(scannedMs).UTC()
		e.Decision = shipment.Decision(decision)
		e.OperatorDecision = shipment.Decision(opDecision)
		e.TamperCheck = shipment.TamperCheck(tc)
		e.SensorSnapshot = blobFrom(snapshot)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoints rows: %w", err)
	}
	return out, nil
}

// lockedPackage reads the current package row inside tx.
func (s *PackageStore) lockedPackage(ctx context.Context, tx *sql.Tx, token string) (shipment.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE token = ?`
	if s.dialect == dbpkg.Postgres {
		query += ` FOR UPDATE`
	}
	p, err := scanPackage(tx.QueryRowContext(ctx, s.q(query+";"), token))
	if errors.Is(err, sql.ErrNoRows) {
		return shipment.Package{}, shipment.ErrNotFound
	}
	if err != nil {
		return shipment.Package{}, fmt.Errorf("read package: %w", err)
	}
	return p, nil
}

// insertCheckpoint validates ordering and appends entry. Must run inside
// the lane transaction for token.
func (s *PackageStore) insertCheckpoint(ctx context.Context, tx *sql.Tx, token string, entry shipment.CheckpointEntry) error {
	entry.ScannedAt = entry.ScannedAt.UTC().Truncate(time.Millisecond)
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}

	existing, err := s.checkpoints(ctx, tx, token)
	if err != nil {
		return err
	}
	if err := shipment.CheckAppend(existing, entry); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO checkpoint_entries(
  entry_id, token, seq, checkpoint_id, scanned_by, scanned_at_ms,
  decision, operator_decision, tamper_check, sensor_snapshot, notes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`),
		entry.EntryID, token, len(existing)+1, entry.CheckpointID, entry.ScannedBy, entry.ScannedAt.UnixMilli(),
		string(entry.Decision), string(entry.OperatorDecision), string(entry.TamperCheck),
		blobArg(entry.SensorSnapshot), entry.Notes,
	); err != nil {
		return fmt.Errorf("insert checkpoint entry: %w", err)
	}
	return nil
}

func (s *PackageStore) AppendCheckpoint(ctx context.Context, token string, entry shipment.CheckpointEntry) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, token, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.lockedPackage(ctx, tx, token); err != nil {
			return err
		}
		if err := s.insertCheckpoint(ctx, tx, token, entry); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`
UPDATE packages
SET current_checkpoint_id = ?, revision = revision + 1, updated_at_ms = ?
WHERE token = ?;
`), entry.CheckpointID, nowMs, token); err != nil {
			return fmt.Errorf("AppendCheckpoint update package: %w", err)
		}
		return nil
	})
}

func (s *PackageStore) AppendTamperEvent(ctx context.Context, token string, ev shipment.TamperEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, token, func(ctx context.Context, tx *sql.Tx) error {
		p, err := s.lockedPackage(ctx, tx, token)
		if err != nil {
			return err
		}
		if ev.ReportingDeviceID != p.DeviceID {
			return shipment.ErrDeviceMismatch
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM tamper_events WHERE token = ?;`), token).Scan(&seq); err != nil {
			return fmt.Errorf("AppendTamperEvent count: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO tamper_events(
  event_id, token, seq, kind, detected_at_ms, reporting_device_id, sensor_payload, received_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`),
			ev.EventID, token, seq+1, ev.Kind, ev.DetectedAt.UTC().UnixMilli(), ev.ReportingDeviceID,
			blobArg(ev.SensorPayload), ev.ReceivedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("AppendTamperEvent insert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`
UPDATE packages
SET is_tampered = 1, revision = revision + 1, updated_at_ms = ?
WHERE token = ?;
`), nowMs, token); err != nil {
			return fmt.Errorf("AppendTamperEvent update package: %w", err)
		}
		return nil
	})
}

func (s *PackageStore) SetStatus(ctx context.Context, token string, expected, next shipment.Status) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, token, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
UPDATE packages SET status = ?, updated_at_ms = ?
WHERE token = ? AND status = ?;
`), string(next), nowMs, token, string(expected))
		if err != nil {
			return fmt.Errorf("SetStatus update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("SetStatus rows affected: %w", err)
		}
		if n == 1 {
			return nil
		}
		if _, err := s.lockedPackage(ctx, tx, token); err != nil {
			return err
		}
		return shipment.ErrConflict
	})
}

func (s *PackageStore) CommitCheckpoint(ctx context.Context, tr shipment.Transition) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, tr.Token, func(ctx context.Context, tx *sql.Tx) error {
		p, err := s.lockedPackage(ctx, tx, tr.Token)
		if err != nil {
			return err
		}
		if p.Status != tr.ExpectedStatus || p.Revision != tr.ExpectedRevision {
			return shipment.ErrConflict
		}
		if err := s.insertCheckpoint(ctx, tx, tr.Token, tr.Entry); err != nil {
			return err
		}

		// The WHERE clause repeats the guard so a writer in another process
		// cannot slip in between the read and the update.
		res, err := tx.ExecContext(ctx, s.q(`
UPDATE packages
SET status = ?, current_checkpoint_id = ?, revision = revision + 1, updated_at_ms = ?
WHERE token = ? AND status = ? AND revision = ?;
`), string(tr.NewStatus), tr.Entry.CheckpointID, nowMs, tr.Token, string(tr.ExpectedStatus), tr.ExpectedRevision)
		if err != nil {
			return fmt.Errorf("CommitCheckpoint update package: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("CommitCheckpoint rows affected: %w", err)
		}
		if n != 1 {
			return shipment.ErrConflict
		}
		return nil
	})
}

func (s *PackageStore) MarkAuthenticated(ctx context.Context, token string) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, token, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.lockedPackage(ctx, tx, token); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`
UPDATE packages SET authenticated = 1, updated_at_ms = ?
WHERE token = ? AND authenticated = 0;
`), nowMs, token); err != nil {
			return fmt.Errorf("MarkAuthenticated update: %w", err)
		}
		return nil
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func blobArg(b shipment.Blob) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func blobFrom(ns sql.NullString) shipment.Blob {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return shipment.Blob(ns.String)
}
