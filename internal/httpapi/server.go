package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veriseal/server/internal/veriseal/audit"
	"github.com/veriseal/server/internal/veriseal/service"
	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/store"
	"github.com/veriseal/server/internal/veriseal/telemetry"
	"github.com/veriseal/server/internal/veriseal/types"
)

type Dependencies struct {
	Logger    *log.Logger
	Addr      string
	Packages  *service.PackageService
	Tamper    *service.TamperLedger
	Gate      *service.VerificationGate
	Telemetry *telemetry.Validator
	Verify    RateLimit
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// AuditLog backs GET /v1/audit. Nil answers 503.
	AuditLog audit.Reader
	// Ready, when set, is consulted by /healthz.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	packages   *service.PackageService
	tamper     *service.TamperLedger
	gate       *service.VerificationGate
	telemetry  *telemetry.Validator
	auditLog   audit.Reader
	ready      func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		packages:  d.Packages,
		tamper:    d.Tamper,
		gate:      d.Gate,
		telemetry: d.Telemetry,
		auditLog:  d.AuditLog,
		ready:     d.Ready,
	}

	if s.telemetry == nil {
		s.telemetry = telemetry.MustNewValidator()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	limiter := newClientLimiter(d.Verify)

	mux.HandleFunc("POST /v1/packages", s.handleCreatePackage)
	mux.HandleFunc("GET /v1/packages", s.handleListPackages)
	mux.HandleFunc("POST /v1/packages/verify", limiter.middleware(s.handleVerify))
	mux.HandleFunc("GET /v1/packages/{token}/public", s.handlePublicInfo)
	mux.HandleFunc("POST /v1/packages/{token}/return-completed", s.handleReturnCompleted)
	mux.HandleFunc("POST /v1/checkpoints/scan", s.handleScan)
	mux.HandleFunc("GET /v1/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("POST /v1/tamper", s.handleTamper)
	mux.HandleFunc("GET /v1/audit", s.handleAuditLog)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Packages ────────────────────────────────────────────────────────────────

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req types.CreatePackageRequest
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	res, err := s.packages.CreatePackage(r.Context(), service.CreateRequest{
		SenderID: req.SenderID,
		DeviceID: req.DeviceID,
		Metadata: shipment.Metadata{
			OrderID:       req.OrderID,
			PackageType:   req.PackageType,
			ReceiverPhone: req.ReceiverPhone,
			Notes:         req.Notes,
		},
	})
	if err != nil {
		s.writeServiceError(w, "create_package", err)
		return
	}

	writeJSON(w, http.StatusCreated, types.CreatePackageResponse{
		OK:               true,
		PackageID:        res.Package.ID,
		Token:            res.Package.Token,
		VerificationCode: res.VerificationCode,
		Status:           string(res.Package.Status),
		CreatedAt:        res.Package.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	f := store.ListFilter{SenderID: strings.TrimSpace(r.URL.Query().Get("sender_id"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	rows, err := s.packages.ListPackages(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, "list_packages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": rows, "count": len(rows)})
}

func (s *Server) handlePublicInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.packages.GetPublicInfo(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeServiceError(w, "public_info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleReturnCompleted(w http.ResponseWriter, r *http.Request) {
	var req types.ReturnCompletedRequest
	if r.ContentLength != 0 {
		if _, err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	p, err := s.packages.CompleteReturn(r.Context(), r.PathValue("token"), req.Actor)
	if err != nil {
		s.writeServiceError(w, "return_completed", err)
		return
	}
	writeJSON(w, http.StatusOK, types.ReturnCompletedResponse{
		OK:        true,
		PackageID: p.ID,
		Status:    string(p.Status),
	})
}

// handleVerify answers unknown tokens and wrong codes identically.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	view, err := s.gate.Verify(r.Context(), req.Token, req.Code)
	if err != nil {
		if errors.Is(err, shipment.ErrNotFound) || errors.Is(err, shipment.ErrInvalidCode) {
			writeError(w, http.StatusUnauthorized, "verification_failed", "token or verification code is not valid")
			return
		}
		s.writeServiceError(w, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ── Checkpoints ─────────────────────────────────────────────────────────────

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": s.packages.Registry().All()})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	asProto, err := decodeBody(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	decision, err := shipment.ParseDecision(req.Decision)
	if err != nil {
		s.writeServiceError(w, "scan", err)
		return
	}
	scannedAt, ok := parseOptionalTimestamp(req.ScannedAt)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_timestamp", "scanned_at must be RFC3339")
		return
	}
	snapshot := optionalBlob(req.SensorSnapshot)
	if err := s.telemetry.ValidateSnapshot(snapshot); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_sensor_snapshot", err.Error())
		return
	}

	res, err := s.packages.ScanCheckpoint(r.Context(), service.ScanRequest{
		Token:          req.Token,
		CheckpointID:   req.CheckpointID,
		ScannedBy:      req.ScannedBy,
		DeviceID:       req.DeviceID,
		ScannedAt:      scannedAt,
		Decision:       decision,
		SensorSnapshot: snapshot,
		Notes:          req.Notes,
	})
	if err != nil {
		s.writeServiceError(w, "scan", err)
		return
	}

	s.respond(w, asProto, http.StatusOK, types.ScanResponse{
		OK:               true,
		PackageID:        res.PackageID,
		CheckpointID:     res.Entry.CheckpointID,
		Decision:         string(res.Entry.Decision),
		OperatorDecision: string(res.Entry.OperatorDecision),
		TamperCheck:      string(res.Entry.TamperCheck),
		Status:           string(res.Status),
		TamperEvents:     len(res.WindowTampers),
		ScannedAt:        res.Entry.ScannedAt.Format(time.RFC3339Nano),
		ServerTime:       time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// optionalBlob treats an explicit JSON null the same as an omitted field.
func optionalBlob(raw json.RawMessage) shipment.Blob {
	if t := bytes.TrimSpace(raw); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	return shipment.Blob(raw)
}

// ── Tamper ──────────────────────────────────────────────────────────────────

func (s *Server) handleTamper(w http.ResponseWriter, r *http.Request) {
	var req types.TamperRequest
	asProto, err := decodeBody(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	detectedAt, ok := parseOptionalTimestamp(req.DetectedAt)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_timestamp", "detected_at must be RFC3339")
		return
	}
	payload := optionalBlob(req.SensorPayload)
	if err := s.telemetry.ValidateTamperPayload(payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_sensor_payload", err.Error())
		return
	}

	ev, err := s.tamper.ReportTamper(r.Context(), req.Token, req.DeviceID, service.TamperReport{
		Kind:          req.Kind,
		DetectedAt:    detectedAt,
		SensorPayload: payload,
	})
	if err != nil {
		s.writeServiceError(w, "tamper", err)
		return
	}

	s.respond(w, asProto, http.StatusAccepted, types.TamperResponse{
		OK:         true,
		EventID:    ev.EventID,
		Kind:       ev.Kind,
		DetectedAt: ev.DetectedAt.Format(time.RFC3339Nano),
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// ── Audit ───────────────────────────────────────────────────────────────────

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable", "no audit log configured")
		return
	}

	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := s.auditLog.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Printf("audit log read: %v", err)
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable", "audit log unreachable")
		return
	}

	resp := types.AuditLogResponse{Verified: true}
	oldestFirst := slices.Clone(entries)
	slices.Reverse(oldestFirst)
	if err := audit.VerifyEntries(oldestFirst); err != nil {
		resp.Verified = false
		resp.VerifyError = err.Error()
	}

	pkgID := strings.TrimSpace(r.URL.Query().Get("package_id"))
	resp.Entries = make([]audit.Entry, 0, len(entries))
	for _, e := range entries {
		if pkgID == "" || e.PackageID == pkgID {
			resp.Entries = append(resp.Entries, e)
		}
	}
	resp.Count = len(resp.Entries)
	writeJSON(w, http.StatusOK, resp)
}

// ── Health ──────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Printf("health check: %v", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "backing store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// parseOptionalTimestamp parses an RFC3339 device timestamp. An empty
// string yields the zero time; ok is false only for a malformed value.
func parseOptionalTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
