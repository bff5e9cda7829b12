package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// UnitOfWork scopes database access to one dispatched request. The first
// repository call begins a transaction; Close commits it when the request
// succeeded and rolls it back otherwise. A unit of work is used by a single
// goroutine and never reused.
type UnitOfWork struct {
	db  *DB
	tx  pgx.Tx
	ctx context.Context

	closed bool
}

func (db *DB) Begin(ctx context.Context) *UnitOfWork {
	return &UnitOfWork{db: db, ctx: ctx}
}

func (u *UnitOfWork) conn(ctx context.Context) (querier, error) {
	if u.closed {
		return nil, errors.New("unit of work already closed")
	}
	if u.tx == nil {
		tx, err := u.db.Pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		u.tx = tx
	}
	return u.tx, nil
}

// Users returns the user repository bound to this unit of work.
func (u *UnitOfWork) Users() *UserRepo { return &UserRepo{uow: u} }

// Players returns the player repository bound to this unit of work.
func (u *UnitOfWork) Players() *PlayerRepo { return &PlayerRepo{uow: u} }

// Close ends the transaction, if one was started. Rollback uses a fresh
// context so a cancelled request still releases its connection.
func (u *UnitOfWork) Close(result error) error {
	if u.closed {
		return nil
	}
	u.closed = true
	if u.tx == nil {
		return nil
	}
	if result != nil {
		if err := u.tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			u.db.log.Warn("rollback failed", zap.Error(err))
		}
		return nil
	}
	if err := u.tx.Commit(u.ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
