package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedMessage reports a frame that failed to parse or validate.
var ErrMalformedMessage = errors.New("malformed message")

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Header is the decoded envelope without its payload.
type Header struct {
	Ver  int
	Type string
}

// Codec serializes envelopes. JSON codecs travel as text frames, binary
// codecs as binary frames.
type Codec interface {
	Name() string
	Binary() bool
	EncodeEnvelope(msgType string, payload any) ([]byte, error)
	DecodeEnvelope(frame []byte) (Header, []byte, error)
	UnmarshalPayload(data []byte, v any) error
}

// NewCodec resolves a codec by name. An empty name selects JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec encodes envelopes as JSON text.
type JSONCodec struct{}

type jsonEnvelope struct {
	Ver  int             `json:"ver"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Binary() bool { return false }

func (JSONCodec) EncodeEnvelope(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Ver: Version, Type: msgType, Data: data})
}

func (JSONCodec) DecodeEnvelope(frame []byte) (Header, []byte, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Header{}, nil, err
	}
	return Header{Ver: env.Ver, Type: env.Type}, env.Data, nil
}

func (JSONCodec) UnmarshalPayload(data []byte, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errors.New("empty payload")
	}
	return json.Unmarshal(data, v)
}

// MsgpackCodec encodes envelopes with MessagePack.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Ver  int                `msgpack:"ver"`
	Type string             `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data,omitempty"`
}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) EncodeEnvelope(msgType string, payload any) ([]byte, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msgpackEnvelope{Ver: Version, Type: msgType, Data: data})
}

func (MsgpackCodec) DecodeEnvelope(frame []byte) (Header, []byte, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		return Header{}, nil, err
	}
	return Header{Ver: env.Ver, Type: env.Type}, env.Data, nil
}

func (MsgpackCodec) UnmarshalPayload(data []byte, v any) error {
	// 0xc0 is the msgpack nil marker.
	if len(data) == 0 || (len(data) == 1 && data[0] == 0xc0) {
		return errors.New("empty payload")
	}
	return msgpack.Unmarshal(data, v)
}
