package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/net/packet"
)

type named string

func (n named) Handle(*Request) error { return nil }

func TestRegisterOverwritesDuplicate(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(packet.MsgLogin, false, func() Handler { return named("first") })
	reg.Register(packet.MsgLogin, true, func() Handler { return named("second") })

	route, ok := reg.Resolve(packet.MsgLogin)
	require.True(t, ok)
	assert.True(t, route.RequireAuth)
	assert.Equal(t, named("second"), route.Factory())
	assert.Equal(t, 1, reg.Len())
}

func TestResolveDoesNotBuildHandler(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	built := 0
	reg.Register(packet.MsgMove, true, func() Handler {
		built++
		return named("move")
	})

	_, ok := reg.Resolve(packet.MsgMove)
	assert.True(t, ok)
	_, ok = reg.Resolve(packet.MsgChat)
	assert.False(t, ok)
	assert.Equal(t, 0, built)
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Freeze()
	assert.Panics(t, func() {
		reg.Register(packet.MsgMove, false, func() Handler { return named("x") })
	})
}
