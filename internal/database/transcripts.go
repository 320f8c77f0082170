package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Transcript is the immutable text result of one transcription job.
type Transcript struct {
	TranscriptID    uuid.UUID `json:"transcript_id"`
	UserID          string    `json:"user_id"`
	AudioFileID     uuid.UUID `json:"audio_file_id"`
	BlobKey         string    `json:"blob_key"`
	Text            string    `json:"text"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// InsertTranscript persists a transcript.
func (db *DB) InsertTranscript(ctx context.Context, t *Transcript) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO transcripts (transcript_id, user_id, audio_file_id, blob_key, body, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.TranscriptID, t.UserID, t.AudioFileID, t.BlobKey, t.Text, t.DurationSeconds, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// ListTranscripts returns the caller's transcripts newest first.
func (db *DB) ListTranscripts(ctx context.Context, userID string, limit, offset int) ([]Transcript, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT transcript_id, user_id, audio_file_id, blob_key, body, duration_seconds, created_at
		FROM transcripts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()
	return collectTranscripts(rows)
}

// TranscriptsInRange returns the user's transcripts with created_at inside
// [from, to), oldest first. Used to assemble a local day for summarization.
func (db *DB) TranscriptsInRange(ctx context.Context, userID string, from, to time.Time) ([]Transcript, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT transcript_id, user_id, audio_file_id, blob_key, body, duration_seconds, created_at
		FROM transcripts
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("transcripts in range: %w", err)
	}
	defer rows.Close()
	return collectTranscripts(rows)
}

func collectTranscripts(rows pgx.Rows) ([]Transcript, error) {
	var result []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.TranscriptID, &t.UserID, &t.AudioFileID, &t.BlobKey, &t.Text, &t.DurationSeconds, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		result = append(result, t)
	}
	if result == nil {
		result = []Transcript{}
	}
	return result, rows.Err()
}
