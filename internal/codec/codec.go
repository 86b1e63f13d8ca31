// Package codec implements the tagged-binary JSON convention used for
// credential payloads. Transport session state contains raw binary fields
// (key material, registration blobs) that plain JSON text cannot represent
// losslessly: encoding replaces each binary field with a
// {"type":"Buffer","data":"<base64>"} placeholder, decoding restores it.
// The convention is symmetric with the placeholder format the protocol
// bridge emits, so blobs can cross the wire and the sessions table unchanged.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const bufferTag = "Buffer"

// Encode marshals v to JSON with every []byte field replaced by a tagged
// base64 placeholder.
func Encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(encodeValue(v))
	if err != nil {
		return nil, fmt.Errorf("encode credential payload: %w", err)
	}
	return data, nil
}

// Decode unmarshals data and restores every tagged placeholder to []byte.
// A nil or empty input decodes to nil.
func Decode(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode credential payload: %w", err)
	}
	return decodeValue(v), nil
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return map[string]any{
			"type": bufferTag,
			"data": base64.StdEncoding.EncodeToString(t),
		}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = encodeValue(e)
		}
		return out
	default:
		return v
	}
}

func decodeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := taggedBuffer(t); ok {
			return raw
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = decodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = decodeValue(e)
		}
		return out
	default:
		return v
	}
}

// taggedBuffer recognizes the placeholder object. Both the base64-string form
// this package writes and the byte-array form legacy writers produced are
// accepted.
func taggedBuffer(m map[string]any) ([]byte, bool) {
	if len(m) != 2 || m["type"] != bufferTag {
		return nil, false
	}
	switch data := m["data"].(type) {
	case string:
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, false
		}
		return raw, true
	case []any:
		raw := make([]byte, len(data))
		for i, e := range data {
			f, ok := e.(float64)
			if !ok || f < 0 || f > 255 {
				return nil, false
			}
			raw[i] = byte(f)
		}
		return raw, true
	default:
		return nil, false
	}
}

// FlattenBinary converts restored []byte values to plain base64 strings, the
// canonical encoding the transport expects for proto-shaped key material. The
// transport cannot consume the restored binary shape for app-state sync keys;
// the credential store adapter routes that category through this rebuild.
func FlattenBinary(v any) any {
	switch t := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = FlattenBinary(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = FlattenBinary(e)
		}
		return out
	default:
		return v
	}
}
