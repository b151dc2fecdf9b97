package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"portal-rpc/protocol"
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	// Maps inside args decode with string keys so values look the same as after JSON.
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// CBORCodec is the compact binary codec. Unsigned integers come back as uint64,
// negative ones as int64.
type CBORCodec struct{}

func (c *CBORCodec) Encode(msg *protocol.Message) ([]byte, error) {
	return cborEncMode.Marshal(msg)
}

func (c *CBORCodec) Decode(data []byte, msg *protocol.Message) error {
	return cborDecMode.Unmarshal(data, msg)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}
