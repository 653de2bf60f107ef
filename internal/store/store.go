// Package store provides the data access layer for the email_queue outbox
// table. The claim path uses pgx native transactions so that
// FOR UPDATE SKIP LOCKED row claims and the processed-flag update commit
// atomically.
package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultClaimTimeout bounds a claiming transaction when the caller passes
// zero to New. A stuck send must never hold a row lock forever.
const defaultClaimTimeout = 30 * time.Second

// Store is the data access object for the email job queue.
type Store struct {
	pool         *pgxpool.Pool
	claimTimeout time.Duration
}

// New creates a Store backed by pool. claimTimeout bounds each claiming
// transaction, including the embedded send; zero selects a 30s default.
func New(pool *pgxpool.Pool, claimTimeout time.Duration) *Store {
	if claimTimeout <= 0 {
		claimTimeout = defaultClaimTimeout
	}
	return &Store{pool: pool, claimTimeout: claimTimeout}
}

// Pool returns the underlying pgxpool for callers that need direct access
// (health checks, test fixtures).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
