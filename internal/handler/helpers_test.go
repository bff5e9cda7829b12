package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/gamegate/internal/auth"
	"github.com/l1jgo/gamegate/internal/config"
	"github.com/l1jgo/gamegate/internal/data"
	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/metrics"
	"github.com/l1jgo/gamegate/internal/net"
	"github.com/l1jgo/gamegate/internal/net/packet"
	"github.com/l1jgo/gamegate/internal/persist"
	"github.com/l1jgo/gamegate/internal/world"
)

// memDB is an in-memory stand-in for Postgres. Writes are applied
// immediately; Close only counts outcomes.
type memDB struct {
	mu        sync.Mutex
	users     map[int64]*persist.UserRow
	players   map[int64]*persist.PlayerRow
	nextID    int64
	commits   int
	rollbacks int
	listErr   error
}

func newMemDB() *memDB {
	return &memDB{users: map[int64]*persist.UserRow{}, players: map[int64]*persist.PlayerRow{}}
}

func (m *memDB) factory(context.Context) Stores { return memStores{m} }

type memStores struct{ db *memDB }

func (s memStores) Users() auth.UserStore { return memUsers{s.db} }
func (s memStores) Players() PlayerStore  { return memPlayers{s.db} }

func (s memStores) Close(result error) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if result == nil {
		s.db.commits++
	} else {
		s.db.rollbacks++
	}
	return nil
}

type memUsers struct{ db *memDB }

func (m memUsers) find(match func(*persist.UserRow) bool) *persist.UserRow {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, u := range m.db.users {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}

func (m memUsers) FindByUsername(_ context.Context, name string) (*persist.UserRow, error) {
	return m.find(func(u *persist.UserRow) bool { return u.Username == name }), nil
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*persist.UserRow, error) {
	return m.find(func(u *persist.UserRow) bool { return u.Email == email }), nil
}

func (m memUsers) FindByID(_ context.Context, id int64) (*persist.UserRow, error) {
	return m.find(func(u *persist.UserRow) bool { return u.ID == id }), nil
}

func (m memUsers) Create(_ context.Context, u *persist.UserRow) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.nextID++
	u.ID = m.db.nextID
	cp := *u
	m.db.users[u.ID] = &cp
	return nil
}

func (m memUsers) UpdateLastLogin(_ context.Context, id int64, ip string, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.users[id].LastLoginIP = ip
	m.db.users[id].LastLoginAt = &at
	return nil
}

func (m memUsers) SetBan(_ context.Context, id int64, banned bool, expires *time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.users[id].Banned = banned
	m.db.users[id].BanExpiresAt = expires
	return nil
}

type memPlayers struct{ db *memDB }

func (m memPlayers) ListByUser(_ context.Context, userID int64) ([]persist.PlayerRow, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.listErr != nil {
		return nil, m.db.listErr
	}
	var out []persist.PlayerRow
	for id := int64(1); id <= m.db.nextID; id++ {
		if p, ok := m.db.players[id]; ok && p.UserID == userID && p.DeletedAt == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m memPlayers) Get(_ context.Context, id int64) (*persist.PlayerRow, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.players[id]
	if !ok || p.DeletedAt != nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m memPlayers) Create(_ context.Context, p *persist.PlayerRow) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.nextID++
	p.ID = m.db.nextID
	p.CreatedAt = time.Now()
	cp := *p
	m.db.players[p.ID] = &cp
	return nil
}

func (m memPlayers) NameExists(_ context.Context, name string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, p := range m.db.players {
		if p.Name == name && p.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (m memPlayers) CountByUser(ctx context.Context, userID int64) (int, error) {
	list, _ := m.ListByUser(ctx, userID)
	return len(list), nil
}

func (m memPlayers) SoftDelete(_ context.Context, id, userID int64) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.players[id]
	if !ok || p.UserID != userID || p.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	p.DeletedAt = &now
	return true, nil
}

func (m memPlayers) SavePosition(_ context.Context, id int64, sceneID int32, x, y, z float32) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if p, ok := m.db.players[id]; ok {
		p.SceneID, p.X, p.Y, p.Z = sceneID, x, y, z
	}
	return nil
}

func (m *memDB) player(id int64) persist.PlayerRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.players[id]
}

// seedUser inserts an account with the given password and returns its id.
func (m *memDB) seedUser(t *testing.T, username, password string) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &persist.UserRow{Username: username, Email: username + "@example.com", PasswordHash: string(hash)}
	require.NoError(t, memUsers{m}.Create(context.Background(), u))
	return u.ID
}

func (m *memDB) seedPlayer(t *testing.T, userID int64, name string) int64 {
	t.Helper()
	p := &persist.PlayerRow{UserID: userID, Name: name, Level: 3}
	require.NoError(t, memPlayers{m}.Create(context.Background(), p))
	return p.ID
}

const testScenes = `
- {id: 1, name: Village, spawn_x: 10, spawn_y: 10, width: 100, height: 100}
- {id: 2, name: Cave, spawn_x: 5, spawn_y: 5, width: 50, height: 50}
`

type env struct {
	deps *Deps
	gw   *gateway.Gateway
	db   *memDB
	reg  *gateway.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Setenv(config.EnvPath, "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	scenes, err := data.ParseSceneTable([]byte(testScenes))
	require.NoError(t, err)

	db := newMemDB()
	log := zap.NewNop()
	deps := &Deps{
		Config: cfg,
		Log:    log,
		Online: world.NewOnlineRegistry(world.OnlineOptions{Shards: 4}, metrics.Nop{}, log),
		Scenes: scenes,
		Tokens: auth.NewMemoryCache(),
		Auth: auth.Options{
			Secret:     []byte(cfg.Auth.JWTSecret),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			TokenTTL:   cfg.Auth.TokenTTL,
			BcryptCost: bcrypt.MinCost,
		},
		Metrics: metrics.Nop{},
		Stores:  db.factory,
	}
	reg := gateway.NewRegistry(log)
	RegisterAll(reg, deps)
	reg.Freeze()
	return &env{
		deps: deps,
		gw:   gateway.New(reg, deps.NewScope, deps.Metrics, gateway.Options{}, log),
		db:   db,
		reg:  reg,
	}
}

type frame struct {
	msgType uint16
	payload []byte
}

// peer is a fake connection that records every frame sent to it.
type peer struct {
	id     uint64
	state  *net.SessionState
	seq    uint32
	mu     sync.Mutex
	frames []frame
	closed bool
}

func newPeer(id uint64) *peer { return &peer{id: id, state: net.NewSessionState(id)} }

func (p *peer) ConnID() uint64           { return p.id }
func (p *peer) RemoteAddr() string       { return "10.1.1.1:40000" }
func (p *peer) State() *net.SessionState { return p.state }

func (p *peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *peer) Send(msgType uint16, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrSessionClosed
	}
	if len(payload) > packet.MaxPayload {
		return &net.ProtocolError{Length: uint32(packet.HeaderSize + len(payload)), Err: net.ErrFrameTooLarge}
	}
	p.frames = append(p.frames, frame{msgType, payload})
	return nil
}

// last returns a reader over the most recent frame of msgType.
func (p *peer) last(t *testing.T, msgType uint16) *packet.Reader {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.frames) - 1; i >= 0; i-- {
		if p.frames[i].msgType == msgType {
			return packet.NewReader(p.frames[i].payload)
		}
	}
	t.Fatalf("no %s frame received", packet.MsgName(msgType))
	return nil
}

// all returns readers over every frame of msgType, oldest first.
func (p *peer) all(msgType uint16) []*packet.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*packet.Reader
	for _, f := range p.frames {
		if f.msgType == msgType {
			out = append(out, packet.NewReader(f.payload))
		}
	}
	return out
}

func (p *peer) count(msgType uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.frames {
		if f.msgType == msgType {
			n++
		}
	}
	return n
}

// result reads the [D code][S msg] prefix of the latest msgType reply.
func (p *peer) result(t *testing.T, msgType uint16) (packet.ErrCode, *packet.Reader) {
	t.Helper()
	r := p.last(t, msgType)
	code := packet.ErrCode(r.ReadD())
	r.ReadS()
	return code, r
}

func (e *env) send(p *peer, msgType uint16, payload []byte) {
	seq := uint32(0)
	if !packet.ReplayExempt(msgType) {
		p.seq++
		seq = p.seq
	}
	e.gw.Handle(context.Background(), p, packet.Packet{Type: msgType, Sequence: seq, Payload: payload})
}

func loginPayload(username, password string) []byte {
	w := packet.NewWriter()
	w.WriteS(username)
	w.WriteS(password)
	return w.Bytes()
}

func idPayload(id int64) []byte {
	w := packet.NewWriter()
	w.WriteQ(id)
	return w.Bytes()
}

func scenePayload(id int32) []byte {
	w := packet.NewWriter()
	w.WriteD(id)
	return w.Bytes()
}

// login authenticates p as username and requires success.
func (e *env) login(t *testing.T, p *peer, username, password string) *packet.Reader {
	t.Helper()
	e.send(p, packet.MsgLogin, loginPayload(username, password))
	code, r := p.result(t, packet.MsgLogin)
	require.Equal(t, packet.Success, code)
	return r
}
