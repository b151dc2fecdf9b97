package transport

import (
	"net"
	"sync"

	"portal-rpc/codec"
	"portal-rpc/protocol"
)

// streamPeer is one side of a framed TCP connection. Both the server (one per
// accepted connection) and the client (its single link to the server) use it.
type streamPeer struct {
	conn    net.Conn
	codec   codec.Codec
	origin  string
	writeMu sync.Mutex // Frames from concurrent senders must not interleave
}

func newStreamPeer(conn net.Conn, c codec.Codec) *streamPeer {
	return &streamPeer{
		conn:   conn,
		codec:  c,
		origin: "tcp://" + conn.RemoteAddr().String(),
	}
}

func (p *streamPeer) Origin() string {
	return p.origin
}

func (p *streamPeer) write(msg *protocol.Message) error {
	body, err := p.codec.Encode(msg)
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(p.codec.Type()),
		FrameType: protocol.FrameData,
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return protocol.Encode(p.conn, &header, body)
}

func (p *streamPeer) heartbeat() error {
	header := protocol.Header{
		CodecType: byte(p.codec.Type()),
		FrameType: protocol.FrameHeartbeat,
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return protocol.Encode(p.conn, &header, nil)
}

// readLoop reads frames until the connection breaks, decoding each data frame
// with the codec named in its header. Undecodable bodies are skipped: a peer
// speaking a newer dialect must not take this side down.
func (p *streamPeer) readLoop(deliver func(*protocol.Message)) error {
	for {
		header, body, err := protocol.Decode(p.conn)
		if err != nil {
			return err
		}
		if header.FrameType == protocol.FrameHeartbeat {
			continue
		}

		var msg protocol.Message
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &msg); err != nil {
			continue
		}
		deliver(&msg)
	}
}
