package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Identities  *IdentityRepository
	Tokens      *TokenRepository
	Counters    *CounterRepository
	Attempts    *AttemptRepository
	Suspensions *SuspensionRepository
	Flags       *FlagRepository
	Uploads     *UploadRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Identities:  NewIdentityRepository(pool),
		Tokens:      NewTokenRepository(pool),
		Counters:    NewCounterRepository(pool),
		Attempts:    NewAttemptRepository(pool),
		Suspensions: NewSuspensionRepository(pool),
		Flags:       NewFlagRepository(pool),
		Uploads:     NewUploadRepository(pool),
	}
}
