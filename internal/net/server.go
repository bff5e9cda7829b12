package net

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Hooks are connection lifecycle callbacks. OnOpen runs on the accepting
// goroutine before the session starts; OnClose runs once the session's
// dispatch goroutine has stopped.
type Hooks struct {
	OnOpen  func(*Session)
	OnClose func(*Session)
}

// Server accepts connections and runs one Session per connection.
type Server struct {
	listener net.Listener
	nextID   atomic.Uint64
	opts     SessionOptions
	dispatch DispatchFunc
	hooks    Hooks
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[uint64]*Session
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewServer binds the TCP listener. Pass an empty bindAddr to create a
// server that only serves adopted connections (websocket, tests).
func NewServer(bindAddr string, opts SessionOptions, dispatch DispatchFunc, hooks Hooks, log *zap.Logger) (*Server, error) {
	s := &Server{
		opts:     opts,
		dispatch: dispatch,
		hooks:    hooks,
		log:      log,
		sessions: make(map[uint64]*Session),
	}
	if bindAddr != "" {
		ln, err := net.Listen("tcp", bindAddr)
		if err != nil {
			return nil, err
		}
		s.listener = ln
	}
	return s, nil
}

// Serve runs the accept loop until the listener is closed. Each accepted
// connection gets its own session goroutines.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server has no listener")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept timeout", zap.Error(err))
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}
		s.Adopt(ctx, conn)
	}
}

// Adopt starts a session on an already established connection. It returns
// nil once Shutdown has begun.
func (s *Server) Adopt(ctx context.Context, conn net.Conn) *Session {
	id := s.nextID.Add(1)
	sess := NewSession(ctx, conn, id, s.opts, s.dispatch, s.log)
	sess.OnClose(s.release)

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		sess.Close()
		return nil
	}
	s.wg.Add(1)
	s.sessions[id] = sess
	s.mu.Unlock()

	if s.hooks.OnOpen != nil {
		s.hooks.OnOpen(sess)
	}
	s.log.Info("client connected", zap.Uint64("session", id), zap.String("ip", sess.IP))
	sess.Start()
	return sess
}

func (s *Server) release(sess *Session) {
	defer s.wg.Done()
	if s.hooks.OnClose != nil {
		s.hooks.OnClose(sess)
	}
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
	s.log.Info("client disconnected", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP))
}

// Count returns the number of live sessions.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting, closes every session, and waits for their
// close hooks until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()
	for _, sess := range live {
		sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
