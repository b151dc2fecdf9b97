package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{CodecType: CodecTypeJSON, FrameType: FrameData}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	require.Equal(t, HeaderSize+len(body), buf.Len())

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, header.CodecType, decoded.CodecType)
	require.Equal(t, FrameData, decoded.FrameType)
	require.Equal(t, uint32(len(body)), decoded.BodyLen)
	require.Equal(t, body, decodedBody)
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(FrameData), 0, 0, 0, 2})
	buf.Write([]byte("{}"))

	_, _, err := Decode(&buf)
	require.ErrorContains(t, err, "invalid magic number")
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{MagicByte1, MagicByte2, MagicByte3, 0xFF, CodecTypeJSON, byte(FrameData), 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	require.ErrorContains(t, err, "unsupported version")
}

func TestDecodeUnknownFrameType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{MagicByte1, MagicByte2, MagicByte3, Version, CodecTypeCBOR, 0x09, 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	require.ErrorContains(t, err, "unsupported frame type")
}

func TestDecodeOversizedBody(t *testing.T) {
	hdr := []byte{MagicByte1, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(FrameData), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(hdr[6:10], MaxFrameBody+1)

	_, _, err := Decode(bytes.NewReader(hdr))
	require.ErrorContains(t, err, "too large")
}

func TestHeartbeatHasNoBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{FrameType: FrameHeartbeat}, nil))

	decoded, body, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameHeartbeat, decoded.FrameType)
	require.Empty(t, body)
}

func TestDecodeMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, body := range []string{"one", "two", "three"} {
		require.NoError(t, Encode(&buf, &Header{CodecType: CodecTypeCBOR}, []byte(body)))
	}

	for _, want := range []string{"one", "two", "three"} {
		_, body, err := Decode(&buf)
		require.NoError(t, err)
		require.Equal(t, want, string(body))
	}
}
