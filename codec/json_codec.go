package codec

import (
	"encoding/json"

	"portal-rpc/protocol"
)

// JSONCodec uses encoding/json. Numbers in Args and Result come back as float64.
type JSONCodec struct{}

func (c *JSONCodec) Encode(msg *protocol.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *JSONCodec) Decode(data []byte, msg *protocol.Message) error {
	return json.Unmarshal(data, msg)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
