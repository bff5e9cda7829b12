package handler

import (
	"math"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/net/packet"
	"github.com/l1jgo/gamegate/internal/world"
)

func requireEntity(req *gateway.Request) error {
	if !req.State.HasEntity() {
		return gateway.Rejectf(packet.NoPlayer, "no character selected")
	}
	return nil
}

// HandleEnterScene moves the attached character into a scene at its spawn
// point and announces it to the scene. The roster of characters already there
// follows the reply as MsgAOIPlayers frames, each kept under the frame limit.
// Format: [D sceneID]
// Reply:  [D code][S msg][D sceneID][F x][F y][F z][D total]
// Roster: [D sceneID][H count]{[Q id][S name][D level][F x][F y][F z]}*
func HandleEnterScene(req *gateway.Request, deps *Deps) error {
	if err := requireEntity(req); err != nil {
		return err
	}
	r := req.Reader()
	sceneID := r.ReadD()
	if r.Err() != nil {
		return gateway.Rejectf(packet.InvalidParams, "scene id required")
	}
	scene := deps.Scenes.Get(sceneID)
	if scene == nil {
		return gateway.Rejectf(packet.SceneNotFound, "scene %d not found", sceneID)
	}

	id := req.State.EntityID
	if prev := req.State.SceneID; prev != 0 && prev != sceneID {
		broadcastLeave(req, deps, id, prev)
	}

	var self world.OnlineEntity
	if !deps.Online.Update(id, func(e *world.OnlineEntity) {
		e.SceneID = sceneID
		e.X, e.Y, e.Z = scene.SpawnX, scene.SpawnY, scene.SpawnZ
		self = *e
	}) {
		return gateway.Rejectf(packet.NoPlayer, "character is not online")
	}
	req.State.SceneID = sceneID

	enter := packet.NewWriter()
	writeEntity(enter, &self)
	res := deps.Online.Broadcast(req.Ctx, packet.MsgPlayerEnterAOI, enter.Bytes(), world.InScene(sceneID, id))

	others := deps.Online.Snapshot(world.InScene(sceneID, id))
	w := success()
	w.WriteD(sceneID)
	w.WriteF(self.X)
	w.WriteF(self.Y)
	w.WriteF(self.Z)
	w.WriteD(int32(len(others)))
	req.Reply(w.Bytes())
	chunks := sendRoster(req, sceneID, others)

	req.Log.Debug("entered scene", zap.Int32("scene", sceneID),
		zap.Int("notified", res.Delivered), zap.Int("roster_frames", chunks))
	return nil
}

// rosterHeader is the [D sceneID][H count] prefix of a MsgAOIPlayers frame.
const rosterHeader = 6

// sendRoster streams others as MsgAOIPlayers frames and returns how many
// frames were sent.
func sendRoster(req *gateway.Request, sceneID int32, others []world.OnlineEntity) int {
	frames := 0
	var body *packet.Writer
	count := 0
	flush := func() {
		if count == 0 {
			return
		}
		w := packet.NewWriter()
		w.WriteD(sceneID)
		w.WriteH(uint16(count))
		w.WriteBytes(body.Bytes())
		req.Send(packet.MsgAOIPlayers, w.Bytes())
		frames++
		body, count = nil, 0
	}

	for i := range others {
		entry := packet.NewWriter()
		writeEntity(entry, &others[i])
		if body != nil && (rosterHeader+body.Len()+entry.Len() > packet.MaxPayload || count == math.MaxUint16) {
			flush()
		}
		if body == nil {
			body = packet.NewWriter()
		}
		body.WriteBytes(entry.Bytes())
		count++
	}
	flush()
	return frames
}

func writeEntity(w *packet.Writer, e *world.OnlineEntity) {
	w.WriteQ(e.EntityID)
	w.WriteS(e.Name)
	w.WriteD(e.Level)
	w.WriteF(e.X)
	w.WriteF(e.Y)
	w.WriteF(e.Z)
}

// HandleLeaveScene takes the attached character out of its scene.
func HandleLeaveScene(req *gateway.Request, deps *Deps) error {
	if err := requireEntity(req); err != nil {
		return err
	}
	sceneID := req.State.SceneID
	if sceneID == 0 {
		return gateway.Rejectf(packet.NotInScene, "not in a scene")
	}
	id := req.State.EntityID

	deps.Online.Update(id, func(e *world.OnlineEntity) { e.SceneID = 0 })
	req.State.SceneID = 0
	broadcastLeave(req, deps, id, sceneID)

	req.Reply(success().Bytes())
	return nil
}

// HandleMove updates the character position and relays it to the scene.
// Successful moves are not acknowledged.
// Format: [F x][F y][F z]
func HandleMove(req *gateway.Request, deps *Deps) error {
	if err := requireEntity(req); err != nil {
		return err
	}
	sceneID := req.State.SceneID
	if sceneID == 0 {
		return gateway.Rejectf(packet.NotInScene, "not in a scene")
	}
	r := req.Reader()
	x, y, z := r.ReadF(), r.ReadF(), r.ReadF()
	if r.Err() != nil {
		return gateway.Rejectf(packet.InvalidParams, "position required")
	}
	scene := deps.Scenes.Get(sceneID)
	if scene == nil || !scene.Contains(x, y) {
		return gateway.Rejectf(packet.InvalidParams, "position outside scene")
	}

	id := req.State.EntityID
	deps.Online.Update(id, func(e *world.OnlineEntity) {
		e.X, e.Y, e.Z = x, y, z
	})

	w := packet.NewWriter()
	w.WriteQ(id)
	w.WriteF(x)
	w.WriteF(y)
	w.WriteF(z)
	deps.Online.Broadcast(req.Ctx, packet.MsgPlayerMove, w.Bytes(), world.InScene(sceneID, id))
	return nil
}
