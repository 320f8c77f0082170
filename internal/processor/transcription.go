package processor

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/envelope"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/ledger"
)

var sixty = decimal.NewFromInt(60)

// runTranscription executes one transcription job end to end: fetch, decrypt,
// normalize, gate on duration, transcribe, persist, charge. A nil return
// completes the job; skip paths (opt-out, too short, too long, silent audio)
// complete without producing a transcript.
func (p *Processor) runTranscription(ctx context.Context, log zerolog.Logger, job *database.Job) error {
	if job.AudioFileID == nil {
		return fault.New(fault.NotFound, "source audio missing")
	}
	file, err := p.store.GetAudioFile(ctx, job.UserID, *job.AudioFileID)
	if fault.Is(err, fault.NotFound) {
		return fault.New(fault.NotFound, "source audio missing")
	}
	if err != nil {
		return err
	}
	if file.SizeBytes > p.opts.MaxFileSize {
		return fault.New(fault.InvalidInput, "audio too large")
	}

	prefs, err := p.store.GetPreferences(ctx, job.UserID)
	if err != nil {
		return err
	}
	if prefs == nil {
		prefs = database.DefaultPreferences(job.UserID)
	}
	if !prefs.EnableTranscription {
		log.Info().Msg("transcription disabled by user, skipping")
		return nil
	}

	ok, err := p.billing.HasCredit(ctx, job.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.New(fault.InsufficientCredit, "insufficient credit")
	}

	blob, err := p.blobs.Get(ctx, file.BlobKey)
	if fault.Is(err, fault.NotFound) {
		return fault.New(fault.NotFound, "source audio missing")
	}
	if err != nil {
		return err
	}

	key, err := p.keys.GetKey(ctx, job.UserID)
	if fault.Is(err, fault.NotFound) {
		return fault.New(fault.NotFound, "encryption key missing")
	}
	if err != nil {
		return err
	}
	if err := p.charge(ctx, log, job.UserID, ledger.OpKeyRetrieve, decimal.NewFromInt(1)); err != nil {
		return err
	}

	plaintext, err := envelope.Open(key, blob)
	if err != nil {
		// Tampered or corrupted ciphertext never recovers on retry.
		return fault.Errorf(fault.IntegrityFailure, err, "decryption failed")
	}

	normalized, err := p.transcoder.Normalize(ctx, plaintext, "bin")
	if err != nil {
		return err
	}
	duration, err := p.transcoder.DurationSeconds(ctx, normalized)
	if err != nil {
		return err
	}

	maxSec := p.opts.MaxDurationSec
	if userCap := float64(prefs.RecordingMaxMinutes) * 60; userCap < maxSec {
		maxSec = userCap
	}
	if duration < p.opts.MinDurationSec {
		log.Info().Float64("duration_sec", duration).Msg("audio below minimum duration, skipping")
		return nil
	}
	if duration > maxSec {
		log.Info().Float64("duration_sec", duration).Float64("max_sec", maxSec).
			Msg("audio above maximum duration, skipping")
		return nil
	}

	text, err := p.speech.Transcribe(ctx, normalized, "ogg")
	if err != nil {
		return err
	}
	if err := p.charge(ctx, log, job.UserID, ledger.OpTranscribe, decimal.NewFromFloat(duration).Div(sixty)); err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		log.Info().Msg("speech API returned empty text, no transcript stored")
		return nil
	}

	// Transcript created_at is the recording instant, so the daily summary
	// window slices by when the user spoke, not when the queue caught up.
	t := &database.Transcript{
		TranscriptID:    uuid.New(),
		UserID:          job.UserID,
		AudioFileID:     file.FileID,
		BlobKey:         file.BlobKey,
		Text:            text,
		DurationSeconds: duration,
		CreatedAt:       file.RecordedAt,
	}
	if err := p.store.InsertTranscript(ctx, t); err != nil {
		return err
	}

	log.Info().
		Str("transcript_id", t.TranscriptID.String()).
		Float64("duration_sec", duration).
		Int("chars", len(text)).
		Msg("transcription stored")
	return nil
}

// charge records usage. A transient billing failure (ledger outage, rate
// limit, timeout) is returned so the job releases and the retry re-records
// the usage; anything else is logged and swallowed rather than failing work
// that already happened.
func (p *Processor) charge(ctx context.Context, log zerolog.Logger, userID string, op ledger.Operation, qty decimal.Decimal) error {
	_, err := p.billing.Charge(ctx, userID, op, qty)
	if err == nil {
		return nil
	}
	if fault.CategoryOf(err).Transient() {
		return err
	}
	log.Error().Err(err).Str("operation", string(op)).Msg("usage charge failed")
	return nil
}
