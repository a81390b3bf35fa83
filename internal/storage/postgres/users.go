package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

// EnsureUser creates the row for an auth uid on first sight and keeps the
// email current afterwards.
func (r *UserRepo) EnsureUser(ctx context.Context, id, email string) error {
	if id == "" {
		return fmt.Errorf("user id required")
	}

	const q = `
insert into users (id, email, updated_at)
values ($1, nullif($2,''), now())
on conflict (id) do update
set
  email = coalesce(excluded.email, users.email),
  updated_at = now()
`
	if _, err := r.db.ExecContext(ctx, q, id, email); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}
