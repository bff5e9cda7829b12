package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type UserRow struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Banned       bool
	BanExpiresAt *time.Time
	CreatedAt    time.Time
	LastLoginAt  *time.Time
	LastLoginIP  string
}

type UserRepo struct {
	uow *UnitOfWork
}

const userColumns = `id, username, email, password_hash, banned, ban_expires_at,
	created_at, last_login_at, COALESCE(last_login_ip, '')`

func scanUser(row pgx.Row) (*UserRow, error) {
	u := &UserRow{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Banned,
		&u.BanExpiresAt, &u.CreatedAt, &u.LastLoginAt, &u.LastLoginIP)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepo) findBy(ctx context.Context, where string, arg any) (*UserRow, error) {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
}

// FindByUsername returns nil, nil when no user matches.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*UserRow, error) {
	return r.findBy(ctx, `username = $1`, username)
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*UserRow, error) {
	return r.findBy(ctx, `email = $1`, email)
}

func (r *UserRepo) FindByID(ctx context.Context, id int64) (*UserRow, error) {
	return r.findBy(ctx, `id = $1`, id)
}

// Create inserts u and fills its ID and CreatedAt. A taken username or
// email yields ErrDuplicate.
func (r *UserRepo) Create(ctx context.Context, u *UserRow) error {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash)
		 VALUES ($1, $2, $3) RETURNING id, created_at`,
		u.Username, u.Email, u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	return mapErr(err)
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, id int64, ip string, at time.Time) error {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`UPDATE users SET last_login_at = $1, last_login_ip = $2 WHERE id = $3`, at, ip, id)
	return err
}

// SetBan bans or unbans a user. expires nil means permanent.
func (r *UserRepo) SetBan(ctx context.Context, id int64, banned bool, expires *time.Time) error {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return err
	}
	if !banned {
		expires = nil
	}
	_, err = q.Exec(ctx,
		`UPDATE users SET banned = $1, ban_expires_at = $2 WHERE id = $3`, banned, expires, id)
	return err
}
