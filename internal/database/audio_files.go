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

// AudioFile is the metadata row for one uploaded (encrypted) audio object.
// Immutable after creation apart from soft deletion.
type AudioFile struct {
	FileID     uuid.UUID `json:"file_id"`
	UserID     string    `json:"user_id"`
	BlobKey    string    `json:"blob_key"`
	SizeBytes  int64     `json:"size_bytes"`
	RecordedAt time.Time `json:"recorded_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// InsertAudioFile persists a new audio object.
func (db *DB) InsertAudioFile(ctx context.Context, f *AudioFile) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audio_files (file_id, user_id, blob_key, size_bytes, recorded_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, f.FileID, f.UserID, f.BlobKey, f.SizeBytes, f.RecordedAt.UTC(), f.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audio file: %w", err)
	}
	return nil
}

// GetAudioFile returns one audio object scoped to its owner.
func (db *DB) GetAudioFile(ctx context.Context, userID string, fileID uuid.UUID) (*AudioFile, error) {
	var f AudioFile
	err := db.Pool.QueryRow(ctx, `
		SELECT file_id, user_id, blob_key, size_bytes, recorded_at, received_at
		FROM audio_files
		WHERE file_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, fileID, userID).Scan(&f.FileID, &f.UserID, &f.BlobKey, &f.SizeBytes, &f.RecordedAt, &f.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "audio file not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get audio file: %w", err)
	}
	f.RecordedAt = f.RecordedAt.UTC()
	f.ReceivedAt = f.ReceivedAt.UTC()
	return &f, nil
}

// GetAudioFileByID returns one audio object regardless of owner. The API
// layer uses it to distinguish a foreign file (403) from a missing one (404).
func (db *DB) GetAudioFileByID(ctx context.Context, fileID uuid.UUID) (*AudioFile, error) {
	var f AudioFile
	err := db.Pool.QueryRow(ctx, `
		SELECT file_id, user_id, blob_key, size_bytes, recorded_at, received_at
		FROM audio_files
		WHERE file_id = $1 AND deleted_at IS NULL
	`, fileID).Scan(&f.FileID, &f.UserID, &f.BlobKey, &f.SizeBytes, &f.RecordedAt, &f.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "audio file not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get audio file: %w", err)
	}
	f.RecordedAt = f.RecordedAt.UTC()
	f.ReceivedAt = f.ReceivedAt.UTC()
	return &f, nil
}

// ListAudioFiles returns the caller's audio objects, newest recording first.
func (db *DB) ListAudioFiles(ctx context.Context, userID string, limit, offset int) ([]AudioFile, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT file_id, user_id, blob_key, size_bytes, recorded_at, received_at
		FROM audio_files
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY recorded_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audio files: %w", err)
	}
	defer rows.Close()

	var result []AudioFile
	for rows.Next() {
		var f AudioFile
		if err := rows.Scan(&f.FileID, &f.UserID, &f.BlobKey, &f.SizeBytes, &f.RecordedAt, &f.ReceivedAt); err != nil {
			return nil, err
		}
		f.RecordedAt = f.RecordedAt.UTC()
		f.ReceivedAt = f.ReceivedAt.UTC()
		result = append(result, f)
	}
	if result == nil {
		result = []AudioFile{}
	}
	return result, rows.Err()
}

// DeleteAudioFile soft-deletes the metadata row. The blob itself is left to
// storage lifecycle policy.
func (db *DB) DeleteAudioFile(ctx context.Context, userID string, fileID uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE audio_files SET deleted_at = now()
		WHERE file_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, fileID, userID)
	if err != nil {
		return fmt.Errorf("delete audio file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "audio file not found")
	}
	return nil
}
