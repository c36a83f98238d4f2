package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/connecthub/internal/domain/user"
	"github.com/geocoder89/connecthub/internal/observability"
)

const userColumns = `id, username, email, password_hash, is_active, is_admin, created_at, updated_at`

// UsersRepo stores users in SQLite. Same contract as the Postgres store.
type UsersRepo struct {
	db   *sql.DB
	prom *observability.Prom
}

func NewUsersRepo(db *sql.DB, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{db: db, prom: prom}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User

	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}

	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *UsersRepo) FindByUsername(ctx context.Context, username string) (user.User, error) {
	return r.findOne(ctx, "users.find_by_username", `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	return r.findOne(ctx, "users.find_by_email", `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UsersRepo) findOne(ctx context.Context, op, query, arg string) (user.User, error) {
	var (
		u        user.User
		notFound bool
	)

	err := r.prom.ObserveDB(op, func() error {
		var e error
		u, e = scanUser(r.db.QueryRowContext(ctx, query, arg))
		if errors.Is(e, sql.ErrNoRows) {
			notFound = true
			return nil
		}
		return e
	})

	if err != nil {
		return user.User{}, fmt.Errorf("query user: %w", err)
	}
	if notFound {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return user.User{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var created user.User

	err = r.prom.ObserveDB("users.create", func() error {
		var e error
		created, e = scanUser(tx.QueryRowContext(ctx, `
			INSERT INTO users (username, email, password_hash, is_active, is_admin, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING `+userColumns,
			u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsAdmin, u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
		))
		return e
	})

	if err != nil {
		if isUniqueConstraintError(err) {
			return user.User{}, user.ErrDuplicateKey
		}
		return user.User{}, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return user.User{}, fmt.Errorf("commit: %w", err)
	}

	return created, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id int64) error {
	var affected int64

	err := r.prom.ObserveDB("users.delete", func() error {
		res, e := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if e != nil {
			return e
		}
		affected, e = res.RowsAffected()
		return e
	})

	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) List(ctx context.Context) ([]user.User, error) {
	out := []user.User{}

	err := r.prom.ObserveDB("users.list", func() error {
		rows, e := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
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
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (r *UsersRepo) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	var affected int64

	err := r.prom.ObserveDB("users.update_password", func() error {
		res, e := r.db.ExecContext(ctx,
			`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
			hash, at.UTC(), id,
		)
		if e != nil {
			return e
		}
		affected, e = res.RowsAffected()
		return e
	})

	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// isUniqueConstraintError checks if the error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
