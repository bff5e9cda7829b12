package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/net"
	"github.com/l1jgo/gamegate/internal/net/packet"
)

// Peer is the connection a request arrived on. *net.Session implements it.
type Peer interface {
	ConnID() uint64
	RemoteAddr() string
	Send(msgType uint16, payload []byte) error
	IsClosed() bool
	State() *net.SessionState
}

// Scope holds the collaborators for one dispatch. Close receives the
// handler's result: nil commits, anything else rolls back.
type Scope interface {
	Close(result error) error
}

// ScopeFactory opens a fresh scope per dispatch. Nothing is shared between
// scopes.
type ScopeFactory func(ctx context.Context, peer Peer) (Scope, error)

// Request is what a handler sees for one inbound packet.
type Request struct {
	Ctx    context.Context
	Peer   Peer
	State  *net.SessionState
	Packet packet.Packet
	Scope  Scope
	Log    *zap.Logger
}

// Reader returns a field reader over the payload.
func (r *Request) Reader() *packet.Reader { return r.Packet.Reader() }

// Reply sends on the request's own message type. Failures are logged, not
// returned: the handler's work already happened.
func (r *Request) Reply(payload []byte) {
	r.Send(r.Packet.Type, payload)
}

// Send delivers a message to the requesting connection. A closed connection
// is routine; any other failure (an unencodable payload) is a server bug.
func (r *Request) Send(msgType uint16, payload []byte) {
	err := r.Peer.Send(msgType, payload)
	switch {
	case err == nil:
	case errors.Is(err, net.ErrSessionClosed):
		r.Log.Debug("reply not delivered",
			zap.String("msg", packet.MsgName(msgType)), zap.Error(err))
	default:
		r.Log.Error("reply dropped",
			zap.String("msg", packet.MsgName(msgType)),
			zap.Int("payload_len", len(payload)), zap.Error(err))
	}
}

// Handler processes one request.
type Handler interface {
	Handle(req *Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) error

func (f HandlerFunc) Handle(req *Request) error { return f(req) }

// Factory builds a handler instance for a single dispatch.
type Factory func() Handler

// Reject is a validation failure the client should see. The dispatcher
// replies on the request's message type with the code and message.
type Reject struct {
	Code packet.ErrCode
	Msg  string
}

func (e *Reject) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func Rejectf(code packet.ErrCode, format string, args ...any) *Reject {
	return &Reject{Code: code, Msg: fmt.Sprintf(format, args...)}
}
