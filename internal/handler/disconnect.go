package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/net"
	"github.com/l1jgo/gamegate/internal/net/packet"
	"github.com/l1jgo/gamegate/internal/world"
)

// OnDisconnect returns the session close hook. It runs after the session's
// dispatch goroutine stopped, removes the attached character from the
// online registry, tells its scene, and saves its last position.
func OnDisconnect(deps *Deps) func(*net.Session) {
	return func(sess *net.Session) {
		e, ok := deps.Online.RemoveByConn(sess.ConnID())
		if !ok {
			return
		}
		log := deps.Log.With(zap.Uint64("session", sess.ConnID()), zap.Int64("entity", e.EntityID))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if e.SceneID != 0 {
			w := packet.NewWriter()
			w.WriteQ(e.EntityID)
			deps.Online.Broadcast(ctx, packet.MsgPlayerLeaveAOI, w.Bytes(), world.InScene(e.SceneID, e.EntityID))
		}

		stores := deps.Stores(ctx)
		err := stores.Players().SavePosition(ctx, e.EntityID, e.SceneID, e.X, e.Y, e.Z)
		if err != nil {
			log.Error("save position on disconnect failed", zap.Error(err))
		}
		if cerr := stores.Close(err); cerr != nil {
			log.Error("save position commit failed", zap.Error(cerr))
		}
		log.Info("entity removed on disconnect", zap.String("name", e.Name))
	}
}
