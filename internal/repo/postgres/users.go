package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/connecthub/internal/domain/user"
	"github.com/geocoder89/connecthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, username, email, password_hash, is_active, is_admin, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	return r.prom.ObserveDB(op, fn)
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (r *UsersRepo) FindByUsername(ctx context.Context, username string) (user.User, error) {
	return r.findOne(ctx, "users.find_by_username", `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	return r.findOne(ctx, "users.find_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UsersRepo) findOne(ctx context.Context, op, query string, arg string) (u user.User, err error) {
	var notFound bool

	err = r.observe(op, func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, query, arg))
		if errors.Is(e, pgx.ErrNoRows) {
			notFound = true
			return nil
		}
		return e
	})

	if err != nil {
		return user.User{}, err
	}
	if notFound {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

// Create inserts u and returns the stored row. The unique indexes on
// username and email decide conflicts, so concurrent creates cannot both win.
func (r *UsersRepo) Create(ctx context.Context, u user.User) (created user.User, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = r.observe("users.create", func() error {
		var e error
		created, e = scanUser(tx.QueryRow(ctx, `
			INSERT INTO users (username, email, password_hash, is_active, is_admin, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING `+userColumns,
			u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsAdmin, u.CreatedAt, u.UpdatedAt,
		))
		return e
	})

	if err != nil {
		if isUniqueViolation(err) {
			err = user.ErrDuplicateKey
		}
		return user.User{}, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return user.User{}, err
	}

	return created, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id int64) error {
	var affected int64

	err := r.observe("users.delete", func() error {
		tag, e := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		affected = tag.RowsAffected()
		return e
	})

	if err != nil {
		return err
	}
	if affected == 0 {
		return user.ErrNotFound
	}

	return nil
}

func (r *UsersRepo) List(ctx context.Context) ([]user.User, error) {
	out := []user.User{}

	err := r.observe("users.list", func() error {
		rows, e := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
		if e != nil {
			return e
		}
		defer rows.Close()

		for rows.Next() {
			u, e := scanUser(rows)
			if e != nil {
				return e
			}
			out = append(out, u)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *UsersRepo) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	var affected int64

	err := r.observe("users.update_password", func() error {
		tag, e := r.pool.Exec(ctx,
			`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			id, hash, at,
		)
		affected = tag.RowsAffected()
		return e
	})

	if err != nil {
		return err
	}
	if affected == 0 {
		return user.ErrNotFound
	}

	return nil
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
