package httpapi

import (
	"errors"
	"net/http"

	"github.com/veriseal/server/internal/veriseal/service"
	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/telemetry"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{shipment.ErrNotFound, http.StatusNotFound, "not_found"},
	{shipment.ErrInvalidCode, http.StatusUnauthorized, "verification_failed"},
	{shipment.ErrDeviceMismatch, http.StatusForbidden, "device_mismatch"},
	{shipment.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{shipment.ErrOutOfOrder, http.StatusConflict, "out_of_order"},
	{shipment.ErrNotReturning, http.StatusConflict, "not_returning"},
	{shipment.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{shipment.ErrConflict, http.StatusConflict, "conflict"},
	{shipment.ErrDuplicateToken, http.StatusConflict, "duplicate"},
	{shipment.ErrDuplicateID, http.StatusConflict, "duplicate"},
	{shipment.ErrUnknownCheckpoint, http.StatusUnprocessableEntity, "unknown_checkpoint"},
	{shipment.ErrInvalidDecision, http.StatusUnprocessableEntity, "invalid_decision"},
	{shipment.ErrInvalidTamperKind, http.StatusUnprocessableEntity, "invalid_tamper_kind"},
	{telemetry.ErrInvalidPayload, http.StatusUnprocessableEntity, "invalid_sensor_payload"},
	{service.ErrSenderRequired, http.StatusBadRequest, "invalid_sender_id"},
	{service.ErrDeviceRequired, http.StatusBadRequest, "invalid_device_id"},
	{service.ErrTokenRequired, http.StatusBadRequest, "invalid_token"},
	{shipment.ErrBusy, http.StatusServiceUnavailable, "busy"},
	{shipment.ErrIssuerExhausted, http.StatusServiceUnavailable, "issuer_exhausted"},
}

// writeServiceError maps domain errors to their HTTP status. Anything
// unrecognised is logged and reported as a 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			writeError(w, m.status, m.code, m.err.Error())
			return
		}
	}
	s.logger.Printf("%s error: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}
