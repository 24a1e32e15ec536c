package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/veriseal/server/internal/veriseal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: code, Message: msg})
}

// respond writes v as protobuf when the request came in as protobuf,
// JSON otherwise.
func (s *Server) respond(w http.ResponseWriter, asProto bool, status int, v any) {
	if !asProto {
		writeJSON(w, status, v)
		return
	}
	msg, err := structFromValue(v)
	if err != nil {
		s.logger.Printf("proto response encode: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeProto(w, status, msg)
}
