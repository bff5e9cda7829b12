package net

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/l1jgo/gamegate/internal/net/packet"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("output queue full")
)

// DispatchFunc processes one packet for a session. It is called from the
// session's dispatch goroutine only, one packet at a time, in arrival order.
type DispatchFunc func(ctx context.Context, sess *Session, pkt packet.Packet)

// SessionOptions carries the per-connection tunables from [network] and
// [rate_limit] config.
type SessionOptions struct {
	InQueueSize      int
	OutQueueSize     int
	ReadBufferSize   int
	PacketsPerSecond int           // 0 = unlimited
	ReadTimeout      time.Duration // 0 = no idle timeout
	WriteTimeout     time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.InQueueSize <= 0 {
		o.InQueueSize = 128
	}
	if o.OutQueueSize <= 0 {
		o.OutQueueSize = 256
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 4096
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Session represents a single client connection. Three goroutines serve it:
// readLoop decodes frames into InQueue, dispatchLoop runs them through the
// gateway in order, writeLoop drains OutQueue to the socket.
type Session struct {
	ID   uint64
	IP   string
	conn net.Conn

	state *SessionState // dispatch goroutine only

	InQueue  chan packet.Packet
	OutQueue chan []byte

	opts     SessionOptions
	limiter  *rate.Limiter
	dispatch DispatchFunc
	onClose  func(*Session)

	ctx    context.Context
	cancel context.CancelFunc

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{} // closed after onClose returned

	log *zap.Logger
}

// NewSession builds a session whose context derives from parent. The context
// exists from construction, so Close may run before Start.
func NewSession(parent context.Context, conn net.Conn, id uint64, opts SessionOptions, dispatch DispatchFunc, log *zap.Logger) *Session {
	opts = opts.withDefaults()
	s := &Session{
		ID:       id,
		IP:       conn.RemoteAddr().String(),
		conn:     conn,
		state:    NewSessionState(id),
		InQueue:  make(chan packet.Packet, opts.InQueueSize),
		OutQueue: make(chan []byte, opts.OutQueueSize),
		opts:     opts,
		dispatch: dispatch,
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
		log:      log.With(zap.Uint64("session", id)),
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	if opts.PacketsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.PacketsPerSecond), opts.PacketsPerSecond)
	}
	return s
}

// OnClose registers the cleanup hook. It runs exactly once, after the
// dispatch goroutine has stopped, so no handler of this session can run
// concurrently with it. Must be set before Start.
func (s *Session) OnClose(fn func(*Session)) {
	s.onClose = fn
}

// Start launches the reader, dispatcher and writer goroutines. A session
// closed before Start still runs its close hook once the goroutines see it.
func (s *Session) Start() {
	go s.readLoop()
	go s.dispatchLoop()
	go s.writeLoop()
}

// ConnID identifies the connection in the online registry.
func (s *Session) ConnID() uint64 { return s.ID }

// RemoteAddr is the peer address as reported by the transport.
func (s *Session) RemoteAddr() string { return s.IP }

// State returns the protocol state. Only the dispatch goroutine may use it.
func (s *Session) State() *SessionState { return s.state }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Send encodes a server frame (sequence 0) and queues it for the writer.
// Sending to a closed session fails locally with ErrSessionClosed. A full
// output queue means the client is not reading: the session is closed.
func (s *Session) Send(msgType uint16, payload []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	frame, err := EncodeResponse(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case s.OutQueue <- frame:
		return nil
	default:
		s.log.Warn("output queue full, dropping slow connection",
			zap.String("msg", packet.MsgName(msgType)))
		s.Close()
		return ErrSlowConsumer
	}
}

// Close shuts the session down. Safe to call from any goroutine, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed once the session has fully stopped and its close hook ran.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// readLoop reads from the connection, feeds the frame decoder, and pushes
// complete packets onto InQueue. A protocol error closes the connection
// without a response.
func (s *Session) readLoop() {
	defer s.Close()

	dec := NewDecoder()
	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		if s.opts.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			pkts, derr := dec.Feed(buf[:n])
			for _, pkt := range pkts {
				if !s.admit(pkt) {
					return
				}
			}
			if derr != nil {
				s.log.Warn("protocol error, closing connection", zap.Error(derr))
				return
			}
		}
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, io.EOF) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
	}
}

// admit applies the packet rate limit and hands the packet to the dispatch
// goroutine. Blocking here only stalls this connection's reader.
func (s *Session) admit(pkt packet.Packet) bool {
	if s.limiter != nil && !s.limiter.Allow() {
		s.log.Warn("packet rate exceeded, closing connection",
			zap.Int("limit_pps", s.opts.PacketsPerSecond))
		return false
	}
	select {
	case s.InQueue <- pkt:
		return true
	case <-s.closeCh:
		return false
	}
}

// dispatchLoop runs packets through the dispatcher strictly in arrival
// order. Packets still queued when the session closes are discarded.
func (s *Session) dispatchLoop() {
	defer func() {
		if s.onClose != nil {
			s.onClose(s)
		}
		close(s.done)
	}()

	for {
		select {
		case pkt := <-s.InQueue:
			if s.closed.Load() {
				return
			}
			s.dispatch(s.ctx, s, pkt)
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop writes queued frames to the connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case frame := <-s.OutQueue:
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if _, err := s.conn.Write(frame); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
