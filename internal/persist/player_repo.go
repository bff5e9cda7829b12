package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type PlayerRow struct {
	ID        int64
	UserID    int64
	Name      string
	Level     int32
	SceneID   int32
	X, Y, Z   float32
	CreatedAt time.Time
	DeletedAt *time.Time
}

type PlayerRepo struct {
	uow *UnitOfWork
}

const playerColumns = `id, user_id, name, level, scene_id, pos_x, pos_y, pos_z, created_at, deleted_at`

func scanPlayer(row pgx.Row) (*PlayerRow, error) {
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Level, &p.SceneID,
		&p.X, &p.Y, &p.Z, &p.CreatedAt, &p.DeletedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListByUser returns the user's live players, oldest first.
func (r *PlayerRepo) ListByUser(ctx context.Context, userID int64) ([]PlayerRow, error) {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+playerColumns+` FROM players
		 WHERE user_id = $1 AND deleted_at IS NULL
		 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PlayerRow
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// Get returns nil, nil for an unknown or deleted player.
func (r *PlayerRepo) Get(ctx context.Context, id int64) (*PlayerRow, error) {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return nil, err
	}
	p, err := scanPlayer(q.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *PlayerRepo) Create(ctx context.Context, p *PlayerRow) error {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx,
		`INSERT INTO players (user_id, name, level, scene_id, pos_x, pos_y, pos_z)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		p.UserID, p.Name, p.Level, p.SceneID, p.X, p.Y, p.Z,
	).Scan(&p.ID, &p.CreatedAt)
	return mapErr(err)
}

func (r *PlayerRepo) NameExists(ctx context.Context, name string) (bool, error) {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM players WHERE name = $1 AND deleted_at IS NULL)`, name,
	).Scan(&exists)
	return exists, err
}

func (r *PlayerRepo) CountByUser(ctx context.Context, userID int64) (int, error) {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	err = q.QueryRow(ctx,
		`SELECT COUNT(*) FROM players WHERE user_id = $1 AND deleted_at IS NULL`, userID,
	).Scan(&count)
	return count, err
}

// SoftDelete marks the player deleted. It reports false when the player
// does not exist, is already deleted, or belongs to another user.
func (r *PlayerRepo) SoftDelete(ctx context.Context, id, userID int64) (bool, error) {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx,
		`UPDATE players SET deleted_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SavePosition stores the player's last scene and coordinates.
func (r *PlayerRepo) SavePosition(ctx context.Context, id int64, sceneID int32, x, y, z float32) error {
	q, err := r.uow.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`UPDATE players SET scene_id = $1, pos_x = $2, pos_y = $3, pos_z = $4 WHERE id = $5`,
		sceneID, x, y, z, id)
	return err
}
