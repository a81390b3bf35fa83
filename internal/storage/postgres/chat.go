package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskboard/taskboard-backend/internal/assistant"
)

type ChatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// RecentChat returns the last limit messages of a user, oldest first.
func (r *ChatRepo) RecentChat(ctx context.Context, userID string, limit int) ([]assistant.Message, error) {
	const q = `
select role, content from (
  select id, role, content
  from chat_history
  where user_id = $1
  order by id desc
  limit $2
) recent
order by id asc
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chat: %w", err)
	}
	defer rows.Close()

	var out []assistant.Message
	for rows.Next() {
		var m assistant.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ChatRepo) AppendChat(ctx context.Context, userID string, msgs []assistant.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`insert into chat_history (user_id, role, content) values ($1, $2, $3)`,
			userID, m.Role, m.Content,
		); err != nil {
			return fmt.Errorf("append chat: %w", err)
		}
	}
	return tx.Commit()
}
