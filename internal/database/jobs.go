package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/snarg/vox-engine/internal/fault"
)

// JobKind identifies the unit of deferred work.
type JobKind string

const (
	JobTranscription JobKind = "transcription"
	JobDailySummary  JobKind = "daily_summary"
)

// JobStatus is the lifecycle state of a job. Completed and Failed are terminal.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is one row of the jobs table.
type Job struct {
	JobID         uuid.UUID  `json:"job_id"`
	UserID        string     `json:"user_id"`
	Kind          JobKind    `json:"kind"`
	AudioFileID   *uuid.UUID `json:"audio_file_id,omitempty"`
	SourceBlobKey string     `json:"-"`
	SummaryDate   *time.Time `json:"summary_date,omitempty"`
	Status        JobStatus  `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Attempts      int        `json:"attempts"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

const jobColumns = `job_id, user_id, kind, audio_file_id, COALESCE(source_blob_key, ''),
	summary_date, status, created_at, last_attempt_at, completed_at, attempts, error_message`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.JobID, &j.UserID, &j.Kind, &j.AudioFileID, &j.SourceBlobKey,
		&j.SummaryDate, &j.Status, &j.CreatedAt, &j.LastAttemptAt,
		&j.CompletedAt, &j.Attempts, &j.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	normalizeJobTimes(&j)
	return &j, nil
}

// normalizeJobTimes forces every stored instant to UTC. Age and backoff
// arithmetic in the processor depends on this.
func normalizeJobTimes(j *Job) {
	j.CreatedAt = j.CreatedAt.UTC()
	if j.LastAttemptAt != nil {
		t := j.LastAttemptAt.UTC()
		j.LastAttemptAt = &t
	}
	if j.CompletedAt != nil {
		t := j.CompletedAt.UTC()
		j.CompletedAt = &t
	}
}

// InsertTranscriptionJob inserts a pending transcription job. The insert is
// idempotent per source blob: a second job for the same blob key is silently
// skipped and (nil, false) is returned.
func (db *DB) InsertTranscriptionJob(ctx context.Context, userID string, fileID uuid.UUID, blobKey string, recordedAt time.Time) (*Job, bool, error) {
	j := &Job{
		JobID:         uuid.New(),
		UserID:        userID,
		Kind:          JobTranscription,
		AudioFileID:   &fileID,
		SourceBlobKey: blobKey,
		Status:        StatusPending,
		CreatedAt:     recordedAt.UTC(),
	}
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO jobs (job_id, user_id, kind, audio_file_id, source_blob_key, status, created_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		ON CONFLICT (source_blob_key) WHERE kind = 'transcription' DO NOTHING
	`, j.JobID, j.UserID, j.Kind, j.AudioFileID, j.SourceBlobKey, j.Status, j.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert transcription job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	return j, true, nil
}

// InsertDailySummaryJob inserts a pending daily summary job for the given UTC
// date. The partial unique index on (user_id, summary_date) makes the insert
// conditional: a concurrent scheduler loses the race silently.
func (db *DB) InsertDailySummaryJob(ctx context.Context, userID string, date time.Time, now time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO jobs (job_id, user_id, kind, summary_date, status, created_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (user_id, summary_date) WHERE kind = 'daily_summary' AND status <> 'failed' DO NOTHING
	`, uuid.New(), userID, JobDailySummary, date, StatusPending, now.UTC())
	if err != nil {
		return false, fmt.Errorf("insert daily summary job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetJob returns one job by ID.
func (db *DB) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	j, err := scanJob(db.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// PendingJobs returns pending jobs oldest-first. No locking happens here;
// claiming is a separate conditional update.
func (db *DB) PendingJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// JobsByUser returns a user's transcription jobs, newest first. Daily summary
// jobs are internal bookkeeping and are never exposed through this path.
func (db *DB) JobsByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = $1 AND kind = 'transcription'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query jobs by user: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ClaimJob transitions a job from pending to processing, stamping the attempt.
// Returns false when another worker won the race (or the job left pending).
// This conditional update is the only concurrency control on jobs.
func (db *DB) ClaimJob(ctx context.Context, jobID uuid.UUID, now time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'processing', last_attempt_at = $2, attempts = attempts + 1
		WHERE job_id = $1 AND status = 'pending'
	`, jobID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteJob transitions processing → completed.
func (db *DB) CompleteJob(ctx context.Context, jobID uuid.UUID, now time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = $2, error_message = NULL
		WHERE job_id = $1 AND status = 'processing'
	`, jobID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailJob transitions a job to failed with a reason. expected guards against
// racing workers; a mismatch is reported, not an error.
func (db *DB) FailJob(ctx context.Context, jobID uuid.UUID, expected JobStatus, reason string, now time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', completed_at = $3, error_message = $4
		WHERE job_id = $1 AND status = $2
	`, jobID, expected, now.UTC(), reason)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseJob returns a processing job to pending after a transient failure or
// shutdown. Attempts stay as incremented by the claim; the eligibility filter
// enforces the backoff on the next tick.
func (db *DB) ReleaseJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending'
		WHERE job_id = $1 AND status = 'processing'
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("release job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReapStaleProcessing returns jobs stuck in processing since before cutoff to
// pending. Recovers work lost to crashed workers.
func (db *DB) ReapStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending'
		WHERE status = 'processing' AND last_attempt_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("reap stale processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteTerminalJobsBefore removes completed/failed jobs older than cutoff.
func (db *DB) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed') AND created_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	var result []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.JobID, &j.UserID, &j.Kind, &j.AudioFileID, &j.SourceBlobKey,
			&j.SummaryDate, &j.Status, &j.CreatedAt, &j.LastAttemptAt,
			&j.CompletedAt, &j.Attempts, &j.ErrorMessage,
		); err != nil {
			return nil, err
		}
		normalizeJobTimes(&j)
		result = append(result, j)
	}
	if result == nil {
		result = []Job{}
	}
	return result, rows.Err()
}
