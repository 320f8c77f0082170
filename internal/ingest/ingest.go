// Package ingest registers uploaded audio: metadata row, storage charge,
// transcription job, in that order. The encrypted bytes themselves arrive
// through the blob store (direct upload via presigned URL or API
// passthrough).
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/ledger"
	"github.com/snarg/vox-engine/internal/storage"
)

// Clients ahead of the server clock by a small margin are tolerated;
// anything further in the future is rejected.
const maxFutureSkew = 5 * time.Minute

var bytesPerGB = decimal.NewFromInt(1_000_000_000)

// Store is the persistence surface registration needs.
type Store interface {
	InsertAudioFile(ctx context.Context, f *database.AudioFile) error
	InsertTranscriptionJob(ctx context.Context, userID string, fileID uuid.UUID, blobKey string, recordedAt time.Time) (*database.Job, bool, error)
}

// Charger records billable usage.
type Charger interface {
	Charge(ctx context.Context, userID string, op ledger.Operation, quantity decimal.Decimal) (decimal.Decimal, error)
}

// Ingestor validates and persists audio registrations.
type Ingestor struct {
	store       Store
	charger     Charger
	maxFileSize int64
	log         zerolog.Logger
}

func New(store Store, charger Charger, maxFileSize int64, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:       store,
		charger:     charger,
		maxFileSize: maxFileSize,
		log:         log.With().Str("component", "ingest").Logger(),
	}
}

// RegisterAudio records an uploaded blob and enqueues its transcription job.
// blobKey may be empty, in which case the canonical audio key is generated.
// The job's created_at is the recording instant, not the registration instant,
// so queue order follows capture order. Registering the same blob key twice
// persists a new metadata row but no second job; the returned job is nil.
func (in *Ingestor) RegisterAudio(ctx context.Context, userID, blobKey string, sizeBytes int64, recordedAt time.Time) (*database.AudioFile, *database.Job, error) {
	now := time.Now().UTC()
	if sizeBytes <= 0 {
		return nil, nil, fault.New(fault.InvalidInput, "size_bytes must be positive")
	}
	if sizeBytes > in.maxFileSize {
		return nil, nil, fault.Errorf(fault.InvalidInput, nil,
			"audio exceeds %d byte limit", in.maxFileSize)
	}
	if recordedAt.IsZero() {
		return nil, nil, fault.New(fault.InvalidInput, "recorded_at is required")
	}
	recordedAt = recordedAt.UTC()
	if recordedAt.After(now.Add(maxFutureSkew)) {
		return nil, nil, fault.New(fault.InvalidInput, "recorded_at is in the future")
	}

	fileID := uuid.New()
	if blobKey == "" {
		blobKey = storage.AudioKey(userID, fileID.String())
	}

	// Metadata first, then the charge, then the job. A crash between the
	// writes leaves an audio row without a job, never a job whose audio
	// row is missing.
	file := &database.AudioFile{
		FileID:     fileID,
		UserID:     userID,
		BlobKey:    blobKey,
		SizeBytes:  sizeBytes,
		RecordedAt: recordedAt,
		ReceivedAt: now,
	}
	if err := in.store.InsertAudioFile(ctx, file); err != nil {
		return nil, nil, err
	}

	// Storage is charged at registration; a failed charge is logged rather
	// than unwinding an already-persisted upload.
	gb := decimal.NewFromInt(sizeBytes).Div(bytesPerGB)
	if _, err := in.charger.Charge(ctx, userID, ledger.OpStoreAudio, gb); err != nil {
		in.log.Error().Err(err).
			Str("user_id", userID).
			Str("file_id", fileID.String()).
			Msg("storage charge failed")
	}

	// The partial unique index on source_blob_key makes the job insert the
	// idempotence point: re-registering a blob yields a fresh metadata row
	// and silently no second job.
	job, inserted, err := in.store.InsertTranscriptionJob(ctx, userID, fileID, blobKey, recordedAt)
	if err != nil {
		return nil, nil, err
	}
	if !inserted {
		in.log.Info().
			Str("user_id", userID).
			Str("file_id", fileID.String()).
			Str("blob_key", blobKey).
			Msg("blob already queued, no new job")
		return file, nil, nil
	}

	in.log.Info().
		Str("user_id", userID).
		Str("file_id", fileID.String()).
		Str("blob_key", blobKey).
		Int64("size_bytes", sizeBytes).
		Str("job_id", job.JobID.String()).
		Msg("audio registered")
	return file, job, nil
}
