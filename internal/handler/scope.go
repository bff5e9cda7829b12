package handler

import (
	"context"

	"github.com/l1jgo/gamegate/internal/auth"
	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/persist"
)

// PlayerStore is the character persistence handlers need.
// *persist.PlayerRepo implements it.
type PlayerStore interface {
	ListByUser(ctx context.Context, userID int64) ([]persist.PlayerRow, error)
	Get(ctx context.Context, id int64) (*persist.PlayerRow, error)
	Create(ctx context.Context, p *persist.PlayerRow) error
	NameExists(ctx context.Context, name string) (bool, error)
	CountByUser(ctx context.Context, userID int64) (int, error)
	SoftDelete(ctx context.Context, id, userID int64) (bool, error)
	SavePosition(ctx context.Context, id int64, sceneID int32, x, y, z float32) error
}

// Stores is one request's view of persistence. Close commits when result
// is nil and rolls back otherwise.
type Stores interface {
	Users() auth.UserStore
	Players() PlayerStore
	Close(result error) error
}

// StoreFactory opens Stores for one request.
type StoreFactory func(ctx context.Context) Stores

// PostgresStores opens a persist.UnitOfWork per request.
func PostgresStores(db *persist.DB) StoreFactory {
	return func(ctx context.Context) Stores {
		return uowStores{db.Begin(ctx)}
	}
}

type uowStores struct {
	uow *persist.UnitOfWork
}

func (s uowStores) Users() auth.UserStore    { return s.uow.Users() }
func (s uowStores) Players() PlayerStore     { return s.uow.Players() }
func (s uowStores) Close(result error) error { return s.uow.Close(result) }

// Scope carries the collaborators of one dispatched request. Nothing in
// it outlives the request; stores and the auth service are created on
// first use.
type Scope struct {
	ctx    context.Context
	deps   *Deps
	stores Stores
	auth   *auth.Service
}

// NewScope is the gateway.ScopeFactory for these handlers.
func (d *Deps) NewScope(ctx context.Context, _ gateway.Peer) (gateway.Scope, error) {
	return &Scope{ctx: ctx, deps: d}, nil
}

func (s *Scope) store() Stores {
	if s.stores == nil {
		s.stores = s.deps.Stores(s.ctx)
	}
	return s.stores
}

func (s *Scope) Users() auth.UserStore { return s.store().Users() }
func (s *Scope) Players() PlayerStore  { return s.store().Players() }

func (s *Scope) Auth() *auth.Service {
	if s.auth == nil {
		s.auth = auth.NewService(s.Users(), s.deps.Tokens, s.deps.Auth, s.deps.Log)
	}
	return s.auth
}

func (s *Scope) Close(result error) error {
	if s.stores == nil {
		return nil
	}
	return s.stores.Close(result)
}

func scopeOf(req *gateway.Request) *Scope {
	return req.Scope.(*Scope)
}
