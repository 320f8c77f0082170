// Package storage holds the encrypted audio blobs. Blobs are opaque bytes
// addressed by key; user isolation comes from the audio/{user_id}/ prefix plus
// an owner check in the API layer.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/vox-engine/internal/config"
)

// BlobStore abstracts the object store backends.
type BlobStore interface {
	// Get returns the blob bytes. NotFound if absent, Unavailable on
	// transport error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a blob. Idempotent by key; last write wins.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// SignForUpload returns a time-limited direct-upload URL, or "" for
	// backends without presigning.
	SignForUpload(ctx context.Context, key string) (string, error)

	// Type returns "local" or "s3".
	Type() string
}

// AudioKey is the canonical blob key layout for encrypted uploads.
func AudioKey(userID, fileID string) string {
	return fmt.Sprintf("audio/%s/%s.enc", userID, fileID)
}

// New creates a BlobStore based on config. When S3 is configured, the bucket
// is probed at startup so bad credentials fail the boot instead of the first
// job.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (BlobStore, error) {
	if !cfg.Enabled() {
		log.Info().Str("dir", audioDir).Msg("blob store: local filesystem")
		return NewLocalStore(audioDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return s3store, nil
}
