package shipment

import "bytes"

// Blob is an opaque sensor payload. The engine stores and returns it
// byte-for-byte; its schema belongs to the telemetry layer.
type Blob []byte

func (b Blob) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return []byte(b), nil
}

func (b *Blob) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}
	*b = append((*b)[:0], data...)
	return nil
}

// Clone returns an independent copy so callers cannot mutate stored payloads.
func (b Blob) Clone() Blob {
	if b == nil {
		return nil
	}
	out := make(Blob, len(b))
	copy(out, b)
	return out
}
