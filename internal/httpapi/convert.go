package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// structInto maps a protobuf Struct onto a wire type through its JSON
// form, so both encodings share one set of field names.
func structInto(st *structpb.Struct, dst any) error {
	raw, err := protojson.Marshal(st)
	if err != nil {
		return fmt.Errorf("struct to json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid protobuf body: %w", err)
	}
	return nil
}

// structFromValue is the reverse of structInto for responses.
func structFromValue(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var st structpb.Struct
	if err := protojson.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
