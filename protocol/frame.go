package protocol

// Stream framing for byte-oriented transports (TCP). Each message travels in a
// frame: a fixed 10-byte header followed by the codec-encoded body.
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│ft│ bodyLen │    body ...    │
//	│ prt  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MagicByte1   byte   = 0x70 // 'p'
	MagicByte2   byte   = 0x72 // 'r'
	MagicByte3   byte   = 0x74 // 't'
	Version      byte   = 0x01
	HeaderSize   int    = 10       // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 4 (bodyLen)
	MaxFrameBody uint32 = 16 << 20 // Larger bodies are treated as a corrupt stream
)

// FrameType distinguishes message frames from keepalive probes.
type FrameType byte

const (
	FrameData      FrameType = 0 // Carries one encoded Message
	FrameHeartbeat FrameType = 1 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON byte = 0
	CodecTypeCBOR byte = 1
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	FrameType FrameType
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing a writer must serialize calls, or frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.FrameType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(body)))

	// One write per frame so a concurrent heartbeat can never split it
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame from r, validating magic, version, codec type,
// frame type and body size.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeCBOR {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	frameType := FrameType(headerBuf[5])
	if frameType != FrameData && frameType != FrameHeartbeat {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", headerBuf[5])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxFrameBody {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		FrameType: frameType,
		BodyLen:   bodyLen,
	}, body, nil
}
