package api

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes stream frames for one wire format.
type Codec interface {
	Encode(frame *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)
	// Name is the identifier used in format negotiation.
	Name() string
}

// Format names accepted by the stream endpoints' ?format= parameter.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec resolves a negotiated format name. Unknown or empty names
// fall back to JSON so clients that omit the parameter get a readable
// stream.
func GetCodec(name string) Codec {
	if name == CodecNameMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Encode(f *Frame) ([]byte, error) { return json.Marshal(f) }

func (jsonCodec) Decode(data []byte) (*Frame, error) {
	f := new(Frame)
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decode json frame: %w", err)
	}
	return f, nil
}

func (jsonCodec) Name() string { return CodecNameJSON }

type msgpackCodec struct{}

func (msgpackCodec) Encode(f *Frame) ([]byte, error) { return msgpack.Marshal(f) }

func (msgpackCodec) Decode(data []byte) (*Frame, error) {
	f := new(Frame)
	if err := msgpack.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decode msgpack frame: %w", err)
	}
	return f, nil
}

func (msgpackCodec) Name() string { return CodecNameMsgpack }
