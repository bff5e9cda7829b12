package handler

import (
	"context"
	stdnet "net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/net"
	"github.com/l1jgo/gamegate/internal/net/packet"
)

// Bytes in, Login with sequence 0, character attached and visible in the
// online registry; closing the socket removes it and saves its position.
func TestLoginOverTheWire(t *testing.T) {
	e := newEnv(t)
	uid := e.db.seedUser(t, "wire", "password1")
	pid := e.db.seedPlayer(t, uid, "Wired")

	srv, err := net.NewServer("", net.SessionOptions{}, e.gw.Dispatch, net.Hooks{
		OnClose: OnDisconnect(e.deps),
	}, zap.NewNop())
	require.NoError(t, err)

	server, client := stdnet.Pipe()
	sess := srv.Adopt(context.Background(), server)
	require.NotNil(t, sess)

	frame, err := net.EncodeFrame(packet.MsgLogin, 0, loginPayload("wire", "password1"))
	require.NoError(t, err)
	go client.Write(frame)

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := net.ReadPacket(client)
	require.NoError(t, err)
	assert.Equal(t, packet.MsgLogin, resp.Type)
	assert.Equal(t, uint32(0), resp.Sequence)
	assert.Equal(t, int32(packet.Success), resp.Reader().ReadD())

	assert.Equal(t, 1, e.deps.Online.Count())
	ent, ok := e.deps.Online.Get(pid)
	require.True(t, ok)
	assert.Equal(t, "Wired", ent.Name)
	assert.Equal(t, sess.ConnID(), ent.Conn.ConnID())

	enter, err := net.EncodeFrame(packet.MsgEnterScene, 1, scenePayload(2))
	require.NoError(t, err)
	go client.Write(enter)
	resp, err = net.ReadPacket(client)
	require.NoError(t, err)
	assert.Equal(t, packet.MsgEnterScene, resp.Type)

	client.Close()
	require.Eventually(t, func() bool { return e.deps.Online.Count() == 0 },
		5*time.Second, 10*time.Millisecond)
	<-sess.Done()

	saved := e.db.player(pid)
	assert.Equal(t, int32(2), saved.SceneID)
	assert.Equal(t, float32(5), saved.X)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
