package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/l1jgo/gamegate/internal/metrics"
	"github.com/l1jgo/gamegate/internal/net"
	"github.com/l1jgo/gamegate/internal/net/packet"
)

type sent struct {
	msgType uint16
	payload []byte
}

type fakePeer struct {
	state   *net.SessionState
	mu      sync.Mutex
	out     []sent
	sendErr error
}

func newFakePeer() *fakePeer { return &fakePeer{state: net.NewSessionState(1)} }

func (p *fakePeer) ConnID() uint64           { return 1 }
func (p *fakePeer) RemoteAddr() string       { return "127.0.0.1:5000" }
func (p *fakePeer) IsClosed() bool           { return false }
func (p *fakePeer) State() *net.SessionState { return p.state }

func (p *fakePeer) Send(msgType uint16, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.out = append(p.out, sent{msgType, payload})
	return nil
}

func (p *fakePeer) last(t *testing.T) (uint16, packet.ErrCode, string) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.out)
	s := p.out[len(p.out)-1]
	r := packet.NewReader(s.payload)
	code := packet.ErrCode(r.ReadD())
	return s.msgType, code, r.ReadS()
}

type countingSink struct {
	metrics.Nop
	mu        sync.Mutex
	processed int
	errors    int
	replays   int
}

func (s *countingSink) MessageProcessed(uint16) { s.mu.Lock(); s.processed++; s.mu.Unlock() }
func (s *countingSink) MessageError(uint16)     { s.mu.Lock(); s.errors++; s.mu.Unlock() }
func (s *countingSink) ReplayDropped(uint16)    { s.mu.Lock(); s.replays++; s.mu.Unlock() }

type recordingScope struct {
	closed []error
}

type harness struct {
	reg    *Registry
	gw     *Gateway
	sink   *countingSink
	scopes int
	last   *recordingScope
}

func newHarness() *harness {
	h := &harness{reg: NewRegistry(zap.NewNop()), sink: &countingSink{}}
	h.gw = New(h.reg, func(context.Context, Peer) (Scope, error) {
		h.scopes++
		h.last = &recordingScope{}
		return h.last, nil
	}, h.sink, Options{}, zap.NewNop())
	return h
}

func (s *recordingScope) Close(result error) error {
	s.closed = append(s.closed, result)
	return nil
}

func TestHeartbeatBypassesEverything(t *testing.T) {
	h := newHarness()
	h.gw.now = func() time.Time { return time.UnixMilli(123456) }
	peer := newFakePeer()

	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgHeartbeat, Sequence: 0})
	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgHeartbeat, Sequence: 0})

	require.Len(t, peer.out, 2)
	assert.Equal(t, packet.MsgHeartbeat, peer.out[0].msgType)
	assert.Equal(t, int64(123456), packet.NewReader(peer.out[0].payload).ReadQ())
	assert.Equal(t, uint32(0), peer.state.LastSequence)
	assert.Equal(t, 0, h.scopes)
}

func TestReplayedSequencesAreDropped(t *testing.T) {
	h := newHarness()
	var handled []uint32
	h.reg.RegisterFunc(packet.MsgMove, false, func(req *Request) error {
		handled = append(handled, req.Packet.Sequence)
		return nil
	})
	peer := newFakePeer()

	for _, seq := range []uint32{1, 2, 2, 5, 4, 6} {
		h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgMove, Sequence: seq})
	}

	assert.Equal(t, []uint32{1, 2, 5, 6}, handled)
	assert.Equal(t, 2, h.sink.replays)
	assert.Empty(t, peer.out)
}

func TestLoginIsExemptFromSequenceCheck(t *testing.T) {
	h := newHarness()
	calls := 0
	h.reg.RegisterFunc(packet.MsgLogin, false, func(*Request) error { calls++; return nil })
	peer := newFakePeer()
	peer.state.LastSequence = 10

	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgLogin, Sequence: 0})
	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgLogin, Sequence: 0})

	assert.Equal(t, 2, calls)
	assert.Equal(t, uint32(10), peer.state.LastSequence)
}

func TestUnknownMessage(t *testing.T) {
	h := newHarness()
	peer := newFakePeer()

	h.gw.Handle(context.Background(), peer, packet.Packet{Type: 0x7777, Sequence: 1})

	msgType, code, _ := peer.last(t)
	assert.Equal(t, packet.MsgError, msgType)
	assert.Equal(t, packet.UnknownMessage, code)
	assert.Equal(t, 0, h.scopes)
}

func TestAuthGatingHasNoSideEffects(t *testing.T) {
	h := newHarness()
	built := 0
	h.reg.Register(packet.MsgGetPlayerList, true, func() Handler {
		built++
		return HandlerFunc(func(*Request) error { return nil })
	})
	peer := newFakePeer()

	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgGetPlayerList, Sequence: 1})

	msgType, code, _ := peer.last(t)
	assert.Equal(t, packet.MsgError, msgType)
	assert.Equal(t, packet.NotAuthenticated, code)
	assert.Equal(t, 0, built)
	assert.Equal(t, 0, h.scopes)
	assert.Equal(t, 0, h.sink.processed)

	peer.state.Authenticate(5, "tok")
	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgGetPlayerList, Sequence: 2})
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, h.scopes)
	assert.Equal(t, 1, h.sink.processed)
	assert.Equal(t, []error{nil}, h.last.closed)
}

func TestFreshScopePerDispatch(t *testing.T) {
	h := newHarness()
	var seen []Scope
	h.reg.RegisterFunc(packet.MsgMove, false, func(req *Request) error {
		seen = append(seen, req.Scope)
		return nil
	})
	peer := newFakePeer()

	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgMove, Sequence: 1})
	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgMove, Sequence: 2})

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
}

func TestRejectRepliesWithCode(t *testing.T) {
	h := newHarness()
	h.reg.RegisterFunc(packet.MsgCreatePlayer, false, func(*Request) error {
		return Rejectf(packet.NameExists, "name %q taken", "bob")
	})
	peer := newFakePeer()

	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgCreatePlayer, Sequence: 1})

	msgType, code, msg := peer.last(t)
	assert.Equal(t, packet.MsgCreatePlayer, msgType)
	assert.Equal(t, packet.NameExists, code)
	assert.Equal(t, `name "bob" taken`, msg)
	assert.Equal(t, 1, h.sink.processed)
	require.Len(t, h.last.closed, 1)
	assert.Error(t, h.last.closed[0])
}

func TestHandlerErrorBecomesInternalError(t *testing.T) {
	h := newHarness()
	h.reg.RegisterFunc(packet.MsgMove, false, func(*Request) error {
		return errors.New("db exploded: password=hunter2")
	})
	peer := newFakePeer()

	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgMove, Sequence: 1})

	msgType, code, msg := peer.last(t)
	assert.Equal(t, packet.MsgError, msgType)
	assert.Equal(t, packet.InternalError, code)
	assert.NotContains(t, msg, "hunter2")
	assert.Equal(t, 1, h.sink.errors)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	h := newHarness()
	h.reg.RegisterFunc(packet.MsgMove, false, func(*Request) error {
		var m map[string]int
		m["boom"]++
		return nil
	})
	peer := newFakePeer()

	require.NotPanics(t, func() {
		h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgMove, Sequence: 1})
	})
	_, code, _ := peer.last(t)
	assert.Equal(t, packet.InternalError, code)
	require.Len(t, h.last.closed, 1)
	assert.Error(t, h.last.closed[0])

	// The session keeps working afterwards.
	h.reg.RegisterFunc(packet.MsgChat, false, func(*Request) error { return nil })
	h.gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgChat, Sequence: 2})
	assert.Equal(t, 1, h.sink.processed)
}

func TestScopeOpenFailure(t *testing.T) {
	sink := &countingSink{}
	reg := NewRegistry(zap.NewNop())
	ran := false
	reg.RegisterFunc(packet.MsgMove, false, func(*Request) error { ran = true; return nil })
	gw := New(reg, func(context.Context, Peer) (Scope, error) {
		return nil, errors.New("pool exhausted")
	}, sink, Options{}, zap.NewNop())
	peer := newFakePeer()

	gw.Handle(context.Background(), peer, packet.Packet{Type: packet.MsgMove, Sequence: 1})

	assert.False(t, ran)
	_, code, _ := peer.last(t)
	assert.Equal(t, packet.InternalError, code)
}

func TestHandlerTimeoutSetsDeadline(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	var hasDeadline bool
	reg.RegisterFunc(packet.MsgMove, false, func(req *Request) error {
		_, hasDeadline = req.Ctx.Deadline()
		return nil
	})
	gw := New(reg, nil, nil, Options{HandlerTimeout: time.Second}, zap.NewNop())

	gw.Handle(context.Background(), newFakePeer(), packet.Packet{Type: packet.MsgMove, Sequence: 1})
	assert.True(t, hasDeadline)
}

func TestReplyFailureLogLevels(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{"closed connection", net.ErrSessionClosed, zapcore.DebugLevel},
		{"unencodable payload", &net.ProtocolError{Length: 70000, Err: net.ErrFrameTooLarge}, zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			peer := newFakePeer()
			peer.sendErr = tc.err
			req := &Request{
				Ctx:    context.Background(),
				Peer:   peer,
				State:  peer.state,
				Packet: packet.Packet{Type: packet.MsgEnterScene},
				Log:    zap.New(core),
			}

			req.Reply([]byte{1})
			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tc.level, entries[0].Level)
		})
	}
}
