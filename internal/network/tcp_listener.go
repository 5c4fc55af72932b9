package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/moongate-community/moongate/internal/config"
	"github.com/moongate-community/moongate/internal/metrics"
	"github.com/moongate-community/moongate/internal/protocol"
)

// PacketDispatcher receives every decoded packet.
type PacketDispatcher interface {
	Dispatch(ctx context.Context, connID string, p protocol.Packet)
}

// Server accepts client connections on every configured address and runs
// one read loop per connection.
type Server struct {
	cfg        config.NetworkConfig
	opts       ConnectionOptions
	registry   *ConnectionRegistry
	decoder    *protocol.FrameDecoder
	dispatcher PacketDispatcher
	logger     zerolog.Logger

	mu        sync.Mutex
	listeners []net.Listener
	ready     chan struct{}
	readyOnce sync.Once
	conns     sync.WaitGroup
}

// NewServer creates a server. Nothing is bound until Start.
func NewServer(
	cfg config.NetworkConfig,
	handshake HandshakeConfig,
	registry *ConnectionRegistry,
	decoder *protocol.FrameDecoder,
	dispatcher PacketDispatcher,
) *Server {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	registry.SetMaxConnections(cfg.MaxConnections)
	return &Server{
		cfg: cfg,
		opts: ConnectionOptions{
			WriteTimeout:      config.Seconds(cfg.WriteTimeoutSec),
			MaxReadsPerSecond: cfg.MaxReadsPerSecond,
			Handshake:         handshake,
		},
		registry:   registry,
		decoder:    decoder,
		dispatcher: dispatcher,
		ready:      make(chan struct{}),
		logger:     log.With().Str("component", "tcp_listener").Logger(),
	}
}

// Start binds every listen address, then accepts until ctx is cancelled.
// It returns after all connection goroutines have finished.
func (s *Server) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig(config.Seconds(s.cfg.KeepAliveSec))

	s.mu.Lock()
	for _, addr := range s.cfg.ListenAddresses {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			// Drop partial binds so a retry starts clean.
			for _, bound := range s.listeners {
				_ = bound.Close()
			}
			s.listeners = nil
			s.mu.Unlock()
			return fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	}
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	stop := context.AfterFunc(ctx, s.closeListeners)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		ln := ln
		g.Go(func() error {
			return s.acceptLoop(gctx, ln)
		})
	}

	err := g.Wait()
	s.closeListeners()
	s.conns.Wait()
	s.logger.Info().Msg("TCP listener stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error().Err(err).Str("addr", ln.Addr().String()).Msg("failed to accept connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// Ready is closed once every address is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addrs returns the bound addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Stop closes the listeners; live connections are left to the caller.
func (s *Server) Stop() {
	s.closeListeners()
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}

// ServeConn runs the read loop for one accepted socket until it closes.
func (s *Server) ServeConn(ctx context.Context, raw net.Conn) {
	c := NewConnection(raw, s.opts)
	if err := s.registry.Register(ctx, c); err != nil {
		if errors.Is(err, ErrConnectionLimit) {
			s.logger.Warn().
				Str("remote", raw.RemoteAddr().String()).
				Int("max", s.cfg.MaxConnections).
				Msg("connection limit reached, refusing client")
		} else {
			s.logger.Error().Err(err).Msg("failed to register connection")
		}
		c.Close(err)
		return
	}

	var reason error
	defer func() {
		s.registry.Unregister(context.WithoutCancel(ctx), c.ID(), reason)
	}()

	stop := context.AfterFunc(ctx, func() { c.Close(context.Cause(ctx)) })
	defer stop()

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				reason = err
				return
			}
		}

		s.setReadDeadline(c)
		n, err := raw.Read(buf)
		if n > 0 {
			if perr := s.process(ctx, c, buf[:n]); perr != nil {
				c.logger.Warn().Err(perr).Msg("dropping connection")
				reason = perr
				return
			}
		}
		if err != nil {
			reason = s.readFailure(c, err)
			return
		}
	}
}

func (s *Server) setReadDeadline(c *Connection) {
	timeout := config.Seconds(s.cfg.IdleTimeoutSec)
	if !c.handshake.Established() {
		timeout = config.Seconds(s.cfg.HandshakeTimeoutSec)
	}
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
}

func (s *Server) readFailure(c *Connection, err error) error {
	if !c.IsConnected() {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Debug().Msg("client closed connection")
		return err
	case errors.As(err, &netErr) && netErr.Timeout():
		if !c.handshake.Established() {
			c.logger.Warn().Msg("handshake timed out")
			return fmt.Errorf("handshake timeout: %w", err)
		}
		c.logger.Warn().Msg("connection idle, closing")
		return fmt.Errorf("%w: %w", ErrIdleTimeout, err)
	default:
		c.logger.Error().Err(err).Msg("read error, closing connection")
		return err
	}
}

// process runs one socket chunk through the handshake and frame decoder
// and dispatches every complete packet. A returned error ends the connection.
func (s *Server) process(ctx context.Context, c *Connection, chunk []byte) error {
	c.bytesIn.Add(uint64(len(chunk)))
	metrics.BytesReceived.Add(float64(len(chunk)))
	c.touch()

	wasEstablished := c.handshake.Established()
	plain, err := c.handshake.Feed(chunk)
	if err != nil {
		var cipherErr *CipherError
		if errors.As(err, &cipherErr) {
			metrics.HandshakeFailures.Inc()
			c.Fail(err)
		}
		return err
	}
	if !wasEstablished && c.handshake.Established() {
		c.recordHandshake()
		c.logger.Info().
			Str("seed", fmt.Sprintf("%08X", c.handshake.Seed())).
			Bool("encrypted", c.handshake.Encrypted()).
			Msg("handshake complete")
	}
	if len(plain) == 0 {
		return nil
	}

	c.window = append(c.window, plain...)
	if max := s.cfg.MaxWindowSize; max > 0 && len(c.window) > max {
		c.Fail(ErrWindowOverflow)
		return fmt.Errorf("%w: %d bytes pending", ErrWindowOverflow, len(c.window))
	}

	res := s.decoder.Decode(c.window, func(p protocol.Packet) {
		c.framesIn.Inc()
		metrics.FramesDecoded.WithLabelValues(protocol.FormatOpCode(p.OpCode())).Inc()
		s.dispatcher.Dispatch(ctx, c.ID(), p)
	})

	if res.Skipped > 0 {
		metrics.DesyncBytesSkipped.Add(float64(res.Skipped))
		c.logger.Debug().Int("skipped", res.Skipped).Msg("resynchronised inbound stream")
	}
	if res.Consumed > 0 {
		c.window = append(c.window[:0], c.window[res.Consumed:]...)
	}

	if res.Stall != nil {
		metrics.DecodeStalls.WithLabelValues(stallLabel(res.Stall)).Inc()
		c.setStall(res.Stall)
	} else {
		c.setStall(nil)
	}
	return nil
}

func stallLabel(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownOpcode):
		return "unknown_opcode"
	case errors.Is(err, protocol.ErrUnboundOpcode):
		return "unbound_opcode"
	case errors.Is(err, protocol.ErrDecodeFailed):
		return "decode_failed"
	default:
		return "other"
	}
}
