// Package codec converts envelope payloads to and from bytes for the bridge.
// JSON goes through sonic, protobuf messages through protojson, and raw byte
// slices pass through untouched.
package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var defaultConfig = sonic.ConfigStd

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// Marshal renders v as JSON with the encoding/json compatible sonic config.
// The JSON payload codec and bridged handlers share it.
func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

// Unmarshal parses JSON data into v.
func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// PayloadCodec turns envelope payloads into wire bytes and back.
type PayloadCodec interface {
	EncodePayload(payload any) ([]byte, error)
	DecodePayload(data []byte) (any, error)
}

// JSON is the default PayloadCodec.
//
// Encoding: nil becomes an empty body, []byte is passed through, proto.Message
// is rendered with protojson and everything else with sonic. Decoding yields
// the generic JSON value (map[string]any, []any, float64, ...) or, when the
// body is not valid JSON, the raw bytes.
type JSON struct{}

func (JSON) EncodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case proto.Message:
		data, err := protoJSONMarshalOptions.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal proto payload: %w", err)
		}
		return data, nil
	default:
		data, err := Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		return data, nil
	}
}

func (JSON) DecodePayload(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if !sonic.Valid(data) {
		raw := make([]byte, len(data))
		copy(raw, data)
		return raw, nil
	}
	var v any
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return v, nil
}

// DecodeProto unmarshals protojson data into target.
func DecodeProto(data []byte, target proto.Message) error {
	return protojson.Unmarshal(data, target)
}
