package gateway

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/net/packet"
)

// Route is a registered message type: how to build its handler and whether
// the session must be authenticated first.
type Route struct {
	Factory     Factory
	RequireAuth bool
}

// Registry maps message types to handler factories. It is written during
// startup and read-only once frozen.
type Registry struct {
	routes map[uint16]Route
	frozen atomic.Bool
	log    *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		routes: make(map[uint16]Route),
		log:    log,
	}
}

// Register maps a message type to a handler factory. Registering the same
// type twice keeps the last factory.
func (reg *Registry) Register(msgType uint16, requireAuth bool, factory Factory) {
	if reg.frozen.Load() {
		panic(fmt.Sprintf("gateway: Register(%s) after Freeze", packet.MsgName(msgType)))
	}
	if factory == nil {
		panic(fmt.Sprintf("gateway: nil factory for %s", packet.MsgName(msgType)))
	}
	if _, dup := reg.routes[msgType]; dup {
		reg.log.Warn("handler registered twice, replacing",
			zap.String("msg", packet.MsgName(msgType)))
	}
	reg.routes[msgType] = Route{Factory: factory, RequireAuth: requireAuth}
}

// RegisterFunc registers a stateless handler function.
func (reg *Registry) RegisterFunc(msgType uint16, requireAuth bool, fn HandlerFunc) {
	reg.Register(msgType, requireAuth, func() Handler { return fn })
}

// Resolve looks up a route. The factory is not invoked.
func (reg *Registry) Resolve(msgType uint16) (Route, bool) {
	r, ok := reg.routes[msgType]
	return r, ok
}

// Freeze makes the registry read-only. Serving starts after this.
func (reg *Registry) Freeze() { reg.frozen.Store(true) }

func (reg *Registry) Len() int { return len(reg.routes) }
