package handler

import (
	"errors"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/net/packet"
	"github.com/l1jgo/gamegate/internal/persist"
	"github.com/l1jgo/gamegate/internal/world"
)

var ErrAlreadyOnline = errors.New("entity already online")

// AttachEntity binds a character to the requesting connection: it is added
// to the online registry and recorded in the session state. Any character
// already attached to this connection is detached first. Another
// connection holding the same character makes this fail with
// ErrAlreadyOnline and leaves the session unattached.
func AttachEntity(req *gateway.Request, deps *Deps, p *persist.PlayerRow) error {
	if req.State.HasEntity() {
		if req.State.EntityID == p.ID {
			return nil
		}
		DetachEntity(req, deps)
	}

	e := world.OnlineEntity{
		EntityID:   p.ID,
		IdentityID: p.UserID,
		Name:       p.Name,
		Level:      p.Level,
		X:          p.X,
		Y:          p.Y,
		Z:          p.Z,
		Conn:       req.Peer,
	}
	if !deps.Online.Add(e) {
		return ErrAlreadyOnline
	}
	req.State.Attach(p.ID, p.Name, 0)
	req.Log.Info("entity attached", zap.Int64("entity", p.ID), zap.String("name", p.Name))
	return nil
}

// DetachEntity removes the attached character, if any, from its scene and
// from the online registry, and clears it from the session state.
func DetachEntity(req *gateway.Request, deps *Deps) {
	if !req.State.HasEntity() {
		return
	}
	id := req.State.EntityID
	if req.State.SceneID != 0 {
		broadcastLeave(req, deps, id, req.State.SceneID)
	}
	deps.Online.Remove(id)
	req.State.Detach()
	req.Log.Info("entity detached", zap.Int64("entity", id))
}

func broadcastLeave(req *gateway.Request, deps *Deps, entityID int64, sceneID int32) {
	w := packet.NewWriter()
	w.WriteQ(entityID)
	deps.Online.Broadcast(req.Ctx, packet.MsgPlayerLeaveAOI, w.Bytes(), world.InScene(sceneID, entityID))
}

func writePlayer(w *packet.Writer, p *persist.PlayerRow) {
	w.WriteQ(p.ID)
	w.WriteS(p.Name)
	w.WriteD(p.Level)
	w.WriteD(p.SceneID)
	w.WriteF(p.X)
	w.WriteF(p.Y)
	w.WriteF(p.Z)
}

func success() *packet.Writer {
	return packet.NewResult(packet.Success, "")
}
