package handler

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/net/packet"
	"github.com/l1jgo/gamegate/internal/world"
)

const (
	chatWorld byte = 0
	chatScene byte = 1
)

// HandleChat relays a chat line to the world or to the sender's scene.
// Format: [C channel][S text]
// Reply:  [D code][S msg]
// Relay:  ChatMessage [C channel][Q senderID][S senderName][S text][Q unixMillis]
func HandleChat(req *gateway.Request, deps *Deps) error {
	if err := requireEntity(req); err != nil {
		return err
	}
	r := req.Reader()
	channel := r.ReadC()
	text := strings.TrimSpace(r.ReadS())
	if r.Err() != nil {
		return gateway.Rejectf(packet.InvalidParams, "malformed chat")
	}
	n := utf8.RuneCountInString(text)
	if n == 0 || n > deps.Config.Character.ChatMaxLength {
		return gateway.Rejectf(packet.InvalidParams, "message must be 1-%d characters", deps.Config.Character.ChatMaxLength)
	}

	var pred func(*world.OnlineEntity) bool
	switch channel {
	case chatWorld:
	case chatScene:
		if req.State.SceneID == 0 {
			return gateway.Rejectf(packet.NotInScene, "not in a scene")
		}
		pred = world.InScene(req.State.SceneID, 0)
	default:
		return gateway.Rejectf(packet.InvalidParams, "unknown channel %d", channel)
	}

	w := packet.NewWriter()
	w.WriteC(channel)
	w.WriteQ(req.State.EntityID)
	w.WriteS(req.State.EntityName)
	w.WriteS(text)
	w.WriteQ(time.Now().UnixMilli())
	deps.Online.Broadcast(req.Ctx, packet.MsgChatMessage, w.Bytes(), pred)

	req.Reply(success().Bytes())
	return nil
}
