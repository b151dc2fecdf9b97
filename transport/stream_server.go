package transport

// Server accepts framed TCP connections from guests and presents them to a host
// as a single Transport. Every accepted connection becomes a Peer whose origin is
// its remote address.
//
//	guest-1 ──conn──┐
//	guest-2 ──conn──┼──→ Server ──Receiver──→ host
//	guest-3 ──conn──┘

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"portal-rpc/codec"
	"portal-rpc/protocol"
)

type Server struct {
	codec    codec.Codec
	listener net.Listener
	subs     subscribers
	conns    sync.Map       // origin → *streamPeer
	wg       sync.WaitGroup // Tracks connection goroutines for Shutdown
	shutdown atomic.Bool    // Set before closing the listener so Accept errors read as intentional
	logger   zerolog.Logger
}

func NewServer(c codec.Codec) *Server {
	return &Server{
		codec:  c,
		logger: log.Logger.With().Str("component", "stream-server").Logger(),
	}
}

// Listen binds the listening socket. Call Serve afterwards to accept connections.
func (s *Server) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", address, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop, one goroutine per connection, until Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("transport: Serve called before Listen")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	peer := newStreamPeer(conn, s.codec)
	s.conns.Store(peer.origin, peer)
	defer s.conns.Delete(peer.origin)

	s.logger.Debug().Str("origin", peer.origin).Msg("connection accepted")
	err := peer.readLoop(func(msg *protocol.Message) {
		s.subs.deliver(msg, peer, peer.origin)
	})
	if err != nil && !s.shutdown.Load() {
		s.logger.Debug().Err(err).Str("origin", peer.origin).Msg("connection closed")
	}
}

func (s *Server) Subscribe(fn Receiver) func() {
	return s.subs.add(fn)
}

// Send writes msg to the connection behind to. Connections that already went
// away yield ErrNoRoute.
func (s *Server) Send(msg *protocol.Message, to Peer) error {
	peer, ok := to.(*streamPeer)
	if !ok {
		return ErrNoRoute
	}
	if _, live := s.conns.Load(peer.origin); !live {
		return ErrNoRoute
	}
	return peer.write(msg)
}

// Shutdown closes the listener and every open connection, then waits for the
// connection goroutines to exit.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Range(func(_, v any) bool {
		v.(*streamPeer).conn.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for connections to close")
	}
}
