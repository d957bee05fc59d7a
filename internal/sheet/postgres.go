package sheet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/habitbot/internal/reliability"
)

const (
	pgRetryAttempts = 3
	pgRetryBase     = 50 * time.Millisecond
	pgRetryCap      = 400 * time.Millisecond
)

// PostgresStore keeps sheet rows in PostgreSQL, one cells array per row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSheetSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSheetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sheet_rows (
			sheet TEXT NOT NULL,
			id BIGINT NOT NULL,
			cells TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (sheet, id)
		);`,
		`CREATE TABLE IF NOT EXISTS sheet_sequences (
			sheet TEXT PRIMARY KEY,
			last_id BIGINT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init sheet schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) NextID(ctx context.Context, table string) (int64, error) {
	var id int64
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO sheet_sequences (sheet, last_id)
			 VALUES ($1, COALESCE((SELECT MAX(id) FROM sheet_rows WHERE sheet=$1), 0) + 1)
			 ON CONFLICT (sheet) DO UPDATE SET last_id = sheet_sequences.last_id + 1
			 RETURNING last_id`,
			table,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("next id for %s: %w", table, err)
	}
	return id, nil
}

func (s *PostgresStore) AppendRow(ctx context.Context, table string, row Row) error {
	if row.ID <= 0 {
		return fmt.Errorf("append %s: row id must be positive", table)
	}
	err := s.retry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO sheet_rows (sheet, id, cells, updated_at) VALUES ($1, $2, $3, now())`,
			table, row.ID, cellsOf(row),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append %s row %d: %w", table, row.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateRow(ctx context.Context, table string, row Row) error {
	var affected int64
	err := s.retry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE sheet_rows SET cells=$3, updated_at=now() WHERE sheet=$1 AND id=$2`,
			table, row.ID, cellsOf(row),
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", table, row.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s row %d: %w", table, row.ID, ErrRowNotFound)
	}
	return nil
}

func (s *PostgresStore) Rows(ctx context.Context, table string) ([]Row, error) {
	var out []Row
	err := s.retry(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, cells FROM sheet_rows WHERE sheet=$1 ORDER BY id ASC`,
			table,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var r Row
			if err := rows.Scan(&r.ID, &r.Values); err != nil {
				return fmt.Errorf("scan sheet row: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("read %s rows: %w", table, err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) retry(ctx context.Context, fn func(context.Context) error) error {
	return reliability.Retry(ctx, pgRetryAttempts, pgRetryBase, pgRetryCap, reliability.IsRetryablePGError, fn)
}

func cellsOf(row Row) []string {
	if row.Values == nil {
		return []string{}
	}
	return row.Values
}
