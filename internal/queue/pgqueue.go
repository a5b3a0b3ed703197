package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGQueue implements Queue against the job_queue table using
// SELECT ... FOR UPDATE SKIP LOCKED, so multiple worker processes can
// consume the same named queue without stepping on each other.
type PGQueue struct {
	db                *sql.DB
	visibilityTimeout time.Duration
	maxAttempts       int
	pollInterval      time.Duration
}

func NewPGQueue(db *sql.DB, visibilityTimeout time.Duration, maxAttempts int) *PGQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &PGQueue{db: db, visibilityTimeout: visibilityTimeout, maxAttempts: maxAttempts, pollInterval: time.Second}
}

func (q *PGQueue) Send(ctx context.Context, queueName string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO job_queue (queue_name, payload, max_attempts) VALUES ($1, $2, $3)`,
		queueName, []byte(payload), q.maxAttempts)
	return err
}

func (q *PGQueue) Consume(ctx context.Context, queueName string, handler Handler) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				processed, err := q.popAndHandle(ctx, queueName, handler)
				if err != nil {
					return err
				}
				if !processed {
					break
				}
			}
		}
	}
}

// popAndHandle claims at most one job and runs handler on it. Returns
// false when the queue was empty (nothing to claim).
func (q *PGQueue) popAndHandle(ctx context.Context, queueName string, handler Handler) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var job Job
	var payload []byte
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload, attempts FROM job_queue
		WHERE queue_name = $1 AND status = 'pending' AND visible_at <= now()
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, queueName).Scan(&job.ID, &payload, &job.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	job.Queue = queueName
	job.Payload = payload

	if _, err := tx.ExecContext(ctx,
		`UPDATE job_queue SET status = 'running', visible_at = $2 WHERE id = $1`,
		job.ID, time.Now().Add(q.visibilityTimeout)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	handleErr := handler(ctx, job)
	if handleErr == nil {
		_, err := q.db.ExecContext(ctx, `UPDATE job_queue SET status = 'done' WHERE id = $1`, job.ID)
		return true, err
	}

	attempts := job.Attempts + 1
	if attempts >= q.maxAttempts {
		_, err := q.db.ExecContext(ctx,
			`UPDATE job_queue SET status = 'failed', attempts = $2, error = $3 WHERE id = $1`,
			job.ID, attempts, handleErr.Error())
		return true, err
	}
	backoff := time.Duration(attempts) * time.Second
	_, err = q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'pending', attempts = $2, visible_at = $3, error = $4 WHERE id = $1
	`, job.ID, attempts, time.Now().Add(backoff), handleErr.Error())
	return true, err
}
