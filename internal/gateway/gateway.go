// Package gateway routes decoded packets to handlers. It owns the checks
// every packet passes before a handler runs: heartbeat short-circuit,
// sequence replay protection, handler lookup and authentication gating.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/metrics"
	"github.com/l1jgo/gamegate/internal/net"
	"github.com/l1jgo/gamegate/internal/net/packet"
)

type Options struct {
	HandlerTimeout time.Duration // 0 = no per-dispatch deadline
}

type Gateway struct {
	registry *Registry
	scopes   ScopeFactory
	metrics  metrics.Sink
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func New(reg *Registry, scopes ScopeFactory, sink metrics.Sink, opts Options, log *zap.Logger) *Gateway {
	if scopes == nil {
		scopes = func(context.Context, Peer) (Scope, error) { return nopScope{}, nil }
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Gateway{
		registry: reg,
		scopes:   scopes,
		metrics:  sink,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Dispatch is the net.DispatchFunc installed on every session.
func (g *Gateway) Dispatch(ctx context.Context, sess *net.Session, pkt packet.Packet) {
	g.Handle(ctx, sess, pkt)
}

// Handle processes one packet for peer. It never returns an error: every
// failure becomes a response to the client or a log line.
func (g *Gateway) Handle(ctx context.Context, peer Peer, pkt packet.Packet) {
	state := peer.State()
	log := g.log.With(
		zap.Uint64("session", peer.ConnID()),
		zap.String("msg", packet.MsgName(pkt.Type)),
		zap.Uint32("seq", pkt.Sequence),
	)

	if pkt.Type == packet.MsgHeartbeat {
		w := packet.NewWriter()
		w.WriteQ(g.now().UnixMilli())
		g.send(peer, log, packet.MsgHeartbeat, w.Bytes())
		return
	}

	if !packet.ReplayExempt(pkt.Type) && !state.AcceptSequence(pkt.Sequence) {
		log.Warn("replayed or stale sequence dropped", zap.Uint32("last", state.LastSequence))
		g.metrics.ReplayDropped(pkt.Type)
		return
	}

	route, ok := g.registry.Resolve(pkt.Type)
	if !ok {
		log.Debug("no handler for message")
		g.sendError(peer, log, packet.UnknownMessage, "unknown message")
		return
	}

	if route.RequireAuth && !state.Authenticated {
		log.Debug("unauthenticated request rejected")
		g.sendError(peer, log, packet.NotAuthenticated, "not authenticated")
		return
	}

	if g.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.HandlerTimeout)
		defer cancel()
	}

	err := g.run(ctx, peer, state, pkt, route, log)
	var reject *Reject
	switch {
	case err == nil:
		g.metrics.MessageProcessed(pkt.Type)
	case errors.As(err, &reject):
		log.Debug("request rejected", zap.Stringer("code", reject.Code), zap.String("reason", reject.Msg))
		g.send(peer, log, pkt.Type, packet.ErrorPayload(reject.Code, reject.Msg))
		g.metrics.MessageProcessed(pkt.Type)
	default:
		log.Error("handler failed", zap.Error(err))
		g.metrics.MessageError(pkt.Type)
		g.sendError(peer, log, packet.InternalError, "internal error")
	}
}

// run opens the scope, builds the handler and executes it. The scope is
// always closed with the handler's outcome.
func (g *Gateway) run(ctx context.Context, peer Peer, state *net.SessionState, pkt packet.Packet, route Route, log *zap.Logger) (err error) {
	scope, err := g.scopes(ctx, peer)
	if err != nil {
		return fmt.Errorf("open scope: %w", err)
	}
	defer func() {
		if cerr := scope.Close(err); cerr != nil {
			log.Error("scope close failed", zap.Error(cerr))
			if err == nil {
				err = fmt.Errorf("close scope: %w", cerr)
			}
		}
	}()

	req := &Request{
		Ctx:    ctx,
		Peer:   peer,
		State:  state,
		Packet: pkt,
		Scope:  scope,
		Log:    log,
	}
	return g.safeCall(route.Factory, req)
}

// safeCall executes a handler with panic recovery so one bad packet cannot
// take down the connection's dispatch goroutine.
func (g *Gateway) safeCall(factory Factory, req *Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			req.Log.Error("handler panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
			err = fmt.Errorf("handler panic for %s: %v", packet.MsgName(req.Packet.Type), rec)
		}
	}()
	return factory().Handle(req)
}

func (g *Gateway) send(peer Peer, log *zap.Logger, msgType uint16, payload []byte) {
	if err := peer.Send(msgType, payload); err != nil {
		log.Debug("response not delivered", zap.Error(err))
	}
}

func (g *Gateway) sendError(peer Peer, log *zap.Logger, code packet.ErrCode, msg string) {
	g.send(peer, log, packet.MsgError, packet.ErrorPayload(code, msg))
}

type nopScope struct{}

func (nopScope) Close(error) error { return nil }
