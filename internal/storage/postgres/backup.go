package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// backupTables lists what a backup contains, parents before children.
var backupTables = []string{
	"users",
	"projects",
	"categories",
	"tasks",
	"notifications",
	"reminders",
	"chat_history",
	"data_exports",
}

type BackupRepo struct {
	db *sql.DB
}

func NewBackupRepo(db *sql.DB) *BackupRepo {
	return &BackupRepo{db: db}
}

// BackupTables returns the backed-up tables that exist in the current schema,
// in dump order.
func (r *BackupRepo) BackupTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
select table_name from information_schema.tables
where table_schema = current_schema() and table_name = any($1)`,
		pq.Array(backupTables))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, t := range backupTables {
		if present[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *BackupRepo) CountRows(ctx context.Context, table string) (int64, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, `select count(*) from `+ident).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// DumpTable streams every row of table to emit as a column-name map.
func (r *BackupRepo) DumpTable(ctx context.Context, table string, emit func(row map[string]any) error) (int64, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return 0, err
	}
	rows, err := r.db.QueryContext(ctx, `select * from `+ident)
	if err != nil {
		return 0, fmt.Errorf("dump %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	var n int64
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("dump %s: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		if err := emit(row); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func tableIdent(table string) (string, error) {
	if !slices.Contains(backupTables, table) {
		return "", fmt.Errorf("table %q is not backed up", table)
	}
	return pgx.Identifier{table}.Sanitize(), nil
}
