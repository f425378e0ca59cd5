// Package codec turns cache values into opaque payload bytes and back.
//
// A Pipeline chains a serializer with optional compression and encryption.
// Every payload it produces starts with a one-byte header describing which
// transforms were applied, so decoding never depends on the current policy.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned when a serializer cannot handle a value
	ErrUnsupportedType = errors.New("codec: unsupported type")

	// ErrCorruptFrame is returned when a payload header is missing or unknown
	ErrCorruptFrame = errors.New("codec: corrupt frame")

	// ErrMissingTransform is returned when a payload needs a compressor or
	// cipher that the pipeline was not configured with
	ErrMissingTransform = errors.New("codec: missing transform")
)

// Codec serializes values to bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, dst any) error
}

// Compressor compresses and decompresses payload bodies.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// Cipher seals and opens payload bodies.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// JSON is the default serializer.
type JSON struct{}

// Encode marshals v as JSON
func (JSON) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return data, nil
}

// Decode unmarshals JSON data into dst
func (JSON) Decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

// Raw stores []byte and string values as-is.
// Decoding into *any yields a []byte.
type Raw struct{}

// Encode copies the bytes of a []byte or string value
func (Raw) Encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("%w: raw codec cannot encode %T", ErrUnsupportedType, v)
	}
}

// Decode copies data into a *[]byte, *string or *any destination
func (Raw) Decode(data []byte, dst any) error {
	switch d := dst.(type) {
	case *[]byte:
		*d = append([]byte(nil), data...)
	case *string:
		*d = string(data)
	case *any:
		*d = append([]byte(nil), data...)
	default:
		return fmt.Errorf("%w: raw codec cannot decode into %T", ErrUnsupportedType, dst)
	}
	return nil
}
