// Package codec serializes protocol messages for transports that move bytes.
// In-process transports hand *protocol.Message values over directly and only use a
// codec when they want to mimic the copy a real process boundary makes.
package codec

import (
	"fmt"

	"portal-rpc/protocol"
)

type CodecType byte

const (
	CodecTypeJSON CodecType = CodecType(protocol.CodecTypeJSON)
	CodecTypeCBOR CodecType = CodecType(protocol.CodecTypeCBOR)
)

type Codec interface {
	Encode(msg *protocol.Message) ([]byte, error)
	Decode(data []byte, msg *protocol.Message) error
	Type() CodecType // 0=JSON, 1=CBOR
}

// GetCodec returns the codec for codecType, defaulting to JSON.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeCBOR {
		return &CBORCodec{}
	}
	return &JSONCodec{}
}

// ByName resolves a configuration name ("json", "cbor").
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return &JSONCodec{}, nil
	case "cbor":
		return &CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
