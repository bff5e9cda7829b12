package handler

import (
	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/auth"
	"github.com/l1jgo/gamegate/internal/config"
	"github.com/l1jgo/gamegate/internal/data"
	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/metrics"
	"github.com/l1jgo/gamegate/internal/net/packet"
	"github.com/l1jgo/gamegate/internal/world"
)

// Deps holds the process-wide dependencies shared by all handlers.
// Per-request collaborators live in Scope instead.
type Deps struct {
	Config  *config.Config
	Log     *zap.Logger
	Online  *world.OnlineRegistry
	Scenes  *data.SceneTable
	Tokens  auth.TokenCache
	Auth    auth.Options
	Metrics metrics.Sink
	Stores  StoreFactory
	Logins  *LoginLimiter // nil = unlimited
}

// RegisterAll registers every handler into the registry.
func RegisterAll(reg *gateway.Registry, deps *Deps) {
	// Auth. Login and Register are also exempt from the sequence check.
	reg.RegisterFunc(packet.MsgLogin, false, func(req *gateway.Request) error {
		return HandleLogin(req, deps)
	})
	reg.RegisterFunc(packet.MsgRegister, false, func(req *gateway.Request) error {
		return HandleRegister(req, deps)
	})
	reg.RegisterFunc(packet.MsgReconnect, false, func(req *gateway.Request) error {
		return HandleReconnect(req, deps)
	})
	reg.RegisterFunc(packet.MsgLogout, true, func(req *gateway.Request) error {
		return HandleLogout(req, deps)
	})

	// Entity management
	reg.RegisterFunc(packet.MsgGetPlayerList, true, func(req *gateway.Request) error {
		return HandleGetPlayerList(req, deps)
	})
	reg.RegisterFunc(packet.MsgCreatePlayer, true, func(req *gateway.Request) error {
		return HandleCreatePlayer(req, deps)
	})
	reg.RegisterFunc(packet.MsgSelectPlayer, true, func(req *gateway.Request) error {
		return HandleSelectPlayer(req, deps)
	})
	reg.RegisterFunc(packet.MsgDeletePlayer, true, func(req *gateway.Request) error {
		return HandleDeletePlayer(req, deps)
	})

	// Scene
	reg.RegisterFunc(packet.MsgEnterScene, true, func(req *gateway.Request) error {
		return HandleEnterScene(req, deps)
	})
	reg.RegisterFunc(packet.MsgLeaveScene, true, func(req *gateway.Request) error {
		return HandleLeaveScene(req, deps)
	})
	reg.RegisterFunc(packet.MsgMove, true, func(req *gateway.Request) error {
		return HandleMove(req, deps)
	})

	// Social
	reg.RegisterFunc(packet.MsgChat, true, func(req *gateway.Request) error {
		return HandleChat(req, deps)
	})
}
