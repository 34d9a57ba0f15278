package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"counsel-bot/internal/domain"
)

const pgUniqueViolation = "23505"

// pgxAPI is the subset of *pgxpool.Pool used by PostgresStore.
type pgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore persists the exchange log in PostgreSQL.
type PostgresStore struct {
	pool pgxAPI
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("repository: database url must not be empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool pgxAPI) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			user_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			PRIMARY KEY (user_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_user_created ON exchanges (user_id, created_at DESC, seq DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repository: init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const insertExchangeSQL = `INSERT INTO exchanges (user_id, seq, created_at, question, answer)
	SELECT $1, COALESCE(MAX(seq), 0) + 1, GREATEST($2::timestamptz, COALESCE(MAX(created_at), $2::timestamptz)), $3, $4
	FROM exchanges WHERE user_id = $1`

const selectRecentSQL = `SELECT seq, created_at, question, answer
	FROM exchanges WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`

// Append inserts the next exchange for userID. Sequence and timestamp clamping
// happen in one statement; the primary key rejects a concurrent duplicate.
func (s *PostgresStore) Append(ctx context.Context, userID, question, answer string, at time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: Append: user id is required")
	}
	tag, err := s.pool.Exec(ctx, insertExchangeSQL, userID, at.UTC(), question, answer)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("repository: Append: %w: %w", ErrSequenceConflict, err)
		}
		return fmt.Errorf("repository: Append: %w: %w", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("repository: Append: %w: inserted %d rows", ErrStoreUnavailable, tag.RowsAffected())
	}
	return nil
}

func (s *PostgresStore) LoadRecent(ctx context.Context, userID string, limit int) ([]domain.Exchange, error) {
	if limit <= 0 {
		return []domain.Exchange{}, nil
	}

	rows, err := s.pool.Query(ctx, selectRecentSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: LoadRecent query: %w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	items := make([]domain.Exchange, 0, limit)
	for rows.Next() {
		var ex domain.Exchange
		if err := rows.Scan(&ex.Sequence, &ex.Timestamp, &ex.Question, &ex.Answer); err != nil {
			return nil, fmt.Errorf("repository: LoadRecent scan: %w", err)
		}
		ex.Timestamp = ex.Timestamp.UTC()
		items = append(items, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: LoadRecent rows: %w: %w", ErrStoreUnavailable, err)
	}

	reverse(items)
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
