package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads. Sensor documents are bounded separately by the telemetry
// validator.
const maxRequestBody = 64 << 10

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload. Devices send "application/x-protobuf".
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/x-protobuf" ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// decodeBody fills dst from a JSON body or from a google.protobuf.Struct
// body, and reports which one it was.
func decodeBody(r *http.Request, dst any) (asProto bool, err error) {
	if isProtobuf(r) {
		var st structpb.Struct
		if err := readProto(r, &st); err != nil {
			return true, fmt.Errorf("invalid protobuf body: %w", err)
		}
		return true, structInto(&st, dst)
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return false, fmt.Errorf("invalid JSON body: %w", err)
	}
	return false, nil
}
