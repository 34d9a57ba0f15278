package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"counsel-bot/internal/domain"
)

var (
	// ErrStoreUnavailable wraps every failure to reach the backing store.
	ErrStoreUnavailable = errors.New("repository: store unavailable")
	// ErrSequenceConflict means another writer appended for the same user
	// between the sequence read and the write.
	ErrSequenceConflict = errors.New("repository: sequence conflict")
)

const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Store is the ordered, per-user, append-only exchange log.
type Store interface {
	LoadRecent(ctx context.Context, userID string, limit int) ([]domain.Exchange, error)
	Append(ctx context.Context, userID, question, answer string, at time.Time) error
	Close() error
}

// StoreOptions selects and configures a backend for NewStore.
type StoreOptions struct {
	Backend     string
	DynamoDB    DynamoDBAPI
	TableName   string
	Retention   time.Duration
	DatabaseURL string
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, opts StoreOptions) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendDynamoDB:
		return New(opts.DynamoDB, opts.TableName, WithRetention(opts.Retention))
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case BackendMemory:
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("repository: unknown backend %q", opts.Backend)
	}
}

// clampTimestamp keeps stored timestamps non-decreasing per user.
func clampTimestamp(at, last time.Time) time.Time {
	at = at.UTC()
	if at.Before(last) {
		return last.UTC()
	}
	return at
}

func reverse(exchanges []domain.Exchange) {
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
}
