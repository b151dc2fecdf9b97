package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-rpc/protocol"
)

func TestJSONCodec(t *testing.T) {
	c := GetCodec(CodecTypeJSON)
	require.Equal(t, CodecTypeJSON, c.Type())

	original := protocol.NewCall("alpha", "add", []any{2, 3})
	data, err := c.Encode(original)
	require.NoError(t, err)

	var decoded protocol.Message
	require.NoError(t, c.Decode(data, &decoded))
	assert.Equal(t, protocol.KindCall, decoded.Kind)
	assert.Equal(t, "alpha", decoded.Scope)
	assert.Equal(t, original.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, "add", decoded.Method)
	assert.Equal(t, []any{float64(2), float64(3)}, decoded.Args)
}

func TestCBORCodec(t *testing.T) {
	c := GetCodec(CodecTypeCBOR)
	require.Equal(t, CodecTypeCBOR, c.Type())

	call := protocol.NewCall("", "config", nil)
	original := protocol.NewResult(call, "", map[string]any{"depth": 3, "name": "x"})
	data, err := c.Encode(original)
	require.NoError(t, err)

	var decoded protocol.Message
	require.NoError(t, c.Decode(data, &decoded))
	assert.Equal(t, protocol.KindResponse, decoded.Kind)
	assert.Equal(t, call.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, map[string]any{"depth": uint64(3), "name": "x"}, decoded.Result)
	assert.False(t, decoded.Failed())
}

func TestFailureKeepsOnlyCode(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &CBORCodec{}} {
		call := protocol.NewCall("", "boom", nil)
		data, err := c.Encode(protocol.NewFailure(call, "", protocol.CodeCallMethodFailed))
		require.NoError(t, err)

		var decoded protocol.Message
		require.NoError(t, c.Decode(data, &decoded))
		assert.True(t, decoded.Failed())
		assert.Equal(t, protocol.CodeCallMethodFailed, decoded.ErrorCode)
		assert.Nil(t, decoded.Result)
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeCBOR, c.Type())

	c, err = ByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, c.Type())

	_, err = ByName("xml")
	require.Error(t, err)
}
