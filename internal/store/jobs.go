// ABOUTME: Store methods for the email_queue outbox: claim-and-run, pending scan, enqueue.
// ABOUTME: ClaimAndRun is the single concurrency-safety primitive — one winner per row.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job is a claimed email job, valid only for the duration of the
// ClaimAndRun callback that receives it.
type Job struct {
	ID           uuid.UUID
	Payload      json.RawMessage
	UserID       *uuid.UUID
	TraceContext *string
}

// WorkFunc performs the side effect for a claimed job. A non-nil return
// rolls back the claim, leaving the row pending for a future attempt.
type WorkFunc func(ctx context.Context, job *Job) error

const claimJobSQL = `
SELECT id, payload, user_id, trace_context
FROM email_queue
WHERE id = $1 AND processed = false
FOR UPDATE SKIP LOCKED`

const markProcessedSQL = `
UPDATE email_queue SET processed = true, processed_at = now() WHERE id = $1`

// ClaimAndRun claims the job row identified by id under an exclusive
// skip-locked row lock and invokes work with it. If the row is already
// locked by another worker, already processed, or nonexistent, ClaimAndRun
// returns (false, nil) — a claim miss is a normal no-op, not an error.
//
// On work success the row is marked processed inside the same transaction
// and committed; on work failure the transaction rolls back and the error
// is returned for the caller to log. The whole claim, send included, runs
// under the store's claim timeout so a wedged send cannot pin the row lock.
func (s *Store) ClaimAndRun(ctx context.Context, id uuid.UUID, work WorkFunc) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.claimTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job %s: begin: %w", id, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on panic or work error

	var job Job
	err = tx.QueryRow(ctx, claimJobSQL, id).
		Scan(&job.ID, &job.Payload, &job.UserID, &job.TraceContext)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // claimed elsewhere, processed, or gone
	}
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}

	if err := work(ctx, &job); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, markProcessedSQL, id); err != nil {
		return false, fmt.Errorf("mark job %s processed: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit job %s: %w", id, err)
	}
	return true, nil
}

// ListPending returns the ids of all currently unprocessed jobs. This is an
// unlocked best-effort snapshot for the recovery sweep: rows may be claimed
// or processed concurrently before the sweep reaches them, which the
// ClaimAndRun no-op path absorbs.
func (s *Store) ListPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM email_queue WHERE processed = false`)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return ids, nil
}

// EnqueueParams are the fields of a new email job. UserID and TraceContext
// are optional correlation metadata; neither affects queue behavior.
type EnqueueParams struct {
	To           string
	Subject      string
	Body         string
	UserID       *uuid.UUID
	TraceContext *string
}

// Enqueue inserts a new email job and returns its id. The notification
// wake-up is emitted by the email_queue_notify trigger on commit, so a bare
// insert is the complete enqueue protocol.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (uuid.UUID, error) {
	payload, err := json.Marshal(struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}{p.To, p.Subject, p.Body})
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue: marshal payload: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx,
		`INSERT INTO email_queue (payload, user_id, trace_context) VALUES ($1, $2, $3) RETURNING id`,
		payload, p.UserID, p.TraceContext,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// JobSummary is an operator-facing view of a job row, payload omitted.
type JobSummary struct {
	ID          uuid.UUID
	Processed   bool
	ProcessedAt *time.Time
	UserID      *uuid.UUID
}

// ListJobsFilter narrows ListJobs results. Nil fields mean "any".
type ListJobsFilter struct {
	Processed *bool
	UserID    *uuid.UUID
	Limit     uint64
}

// ListJobs returns job rows matching filter, for the ops CLI. The query is
// built dynamically with squirrel because every filter field is optional.
func (s *Store) ListJobs(ctx context.Context, filter ListJobsFilter) ([]JobSummary, error) {
	qb := sq.Select("id", "processed", "processed_at", "user_id").
		From("email_queue").
		OrderBy("id").
		PlaceholderFormat(sq.Dollar)
	if filter.Processed != nil {
		qb = qb.Where(sq.Eq{"processed": *filter.Processed})
	}
	if filter.UserID != nil {
		qb = qb.Where(sq.Eq{"user_id": *filter.UserID})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(filter.Limit)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobSummary
	for rows.Next() {
		var j JobSummary
		if err := rows.Scan(&j.ID, &j.Processed, &j.ProcessedAt, &j.UserID); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}
