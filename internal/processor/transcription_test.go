package processor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/envelope"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/ledger"
)

// seedAudio installs an encrypted blob, its metadata row, and the user's key,
// returning the transcription job for it.
func seedAudio(t *testing.T, r *testRig, userID string, plaintext []byte, recordedAt time.Time) *database.Job {
	t.Helper()
	key := bytes.Repeat([]byte{7}, envelope.KeySize)
	r.vault.SetKey(userID, key)

	blob, err := envelope.Seal(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	fileID := uuid.New()
	blobKey := "audio/" + userID + "/" + fileID.String() + ".enc"
	r.blobs.blobs[blobKey] = blob
	r.store.files[fileID] = &database.AudioFile{
		FileID:     fileID,
		UserID:     userID,
		BlobKey:    blobKey,
		SizeBytes:  int64(len(blob)),
		RecordedAt: recordedAt,
		ReceivedAt: recordedAt.Add(time.Minute),
	}
	return &database.Job{
		JobID:       uuid.New(),
		UserID:      userID,
		Kind:        database.JobTranscription,
		AudioFileID: &fileID,
		CreatedAt:   recordedAt,
	}
}

func TestTranscriptionHappyPath(t *testing.T) {
	r := newRig(testOptions())
	recorded := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	job := seedAudio(t, r, "u1", []byte("opus audio bytes"), recorded)

	if err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job); err != nil {
		t.Fatalf("runTranscription: %v", err)
	}

	if len(r.store.transcripts) != 1 {
		t.Fatalf("transcripts = %d, want 1", len(r.store.transcripts))
	}
	tr := r.store.transcripts[0]
	if tr.Text != "remember to call the plumber" {
		t.Errorf("text = %q", tr.Text)
	}
	if !tr.CreatedAt.Equal(recorded) {
		t.Errorf("transcript created_at = %v, want recording time %v", tr.CreatedAt, recorded)
	}
	if tr.DurationSeconds != 42 {
		t.Errorf("duration = %v", tr.DurationSeconds)
	}

	if !r.billing.charged(ledger.OpKeyRetrieve) {
		t.Error("key retrieval not charged")
	}
	if !r.billing.charged(ledger.OpTranscribe) {
		t.Error("transcription not charged")
	}
	wantMin := decimal.NewFromFloat(42).Div(decimal.NewFromInt(60))
	if got := r.billing.qtys[ledger.OpTranscribe]; !got.Equal(wantMin) {
		t.Errorf("charged minutes = %s, want %s", got, wantMin)
	}
}

func TestTranscriptionOptOut(t *testing.T) {
	r := newRig(testOptions())
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())
	p := database.DefaultPreferences("u1")
	p.EnableTranscription = false
	r.store.prefs["u1"] = p

	if err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job); err != nil {
		t.Fatalf("opt-out should complete silently: %v", err)
	}
	if r.speech.calls != 0 {
		t.Error("speech API called despite opt-out")
	}
	if len(r.billing.charges) != 0 {
		t.Errorf("charges despite opt-out: %v", r.billing.charges)
	}
}

func TestTranscriptionNoCredit(t *testing.T) {
	r := newRig(testOptions())
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())
	r.billing.credit = false

	err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.Is(err, fault.InsufficientCredit) {
		t.Fatalf("err = %v, want InsufficientCredit", err)
	}
	if reasonOf(err) != "insufficient credit" {
		t.Errorf("reason = %q", reasonOf(err))
	}
	if r.speech.calls != 0 {
		t.Error("speech API called without credit")
	}
}

func TestTranscriptionMissingAudio(t *testing.T) {
	r := newRig(testOptions())

	missing := uuid.New()
	job := &database.Job{JobID: uuid.New(), UserID: "u1", Kind: database.JobTranscription, AudioFileID: &missing}
	err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.Is(err, fault.NotFound) || reasonOf(err) != "source audio missing" {
		t.Errorf("missing file row: err = %v", err)
	}

	job = &database.Job{JobID: uuid.New(), UserID: "u1", Kind: database.JobTranscription}
	err = r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.Is(err, fault.NotFound) || reasonOf(err) != "source audio missing" {
		t.Errorf("nil audio_file_id: err = %v", err)
	}

	// Metadata present but the blob itself is gone.
	job = seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())
	delete(r.blobs.blobs, r.store.files[*job.AudioFileID].BlobKey)
	err = r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.Is(err, fault.NotFound) || reasonOf(err) != "source audio missing" {
		t.Errorf("missing blob: err = %v", err)
	}
}

func TestTranscriptionTooLarge(t *testing.T) {
	r := newRig(testOptions())
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())
	r.store.files[*job.AudioFileID].SizeBytes = testOptions().MaxFileSize + 1

	err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.Is(err, fault.InvalidInput) || reasonOf(err) != "audio too large" {
		t.Errorf("err = %v, want InvalidInput audio too large", err)
	}
}

func TestTranscriptionTamperedBlob(t *testing.T) {
	r := newRig(testOptions())
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())

	blobKey := r.store.files[*job.AudioFileID].BlobKey
	blob := r.blobs.blobs[blobKey]
	blob[len(blob)-1] ^= 0xFF

	err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.Is(err, fault.IntegrityFailure) || reasonOf(err) != "decryption failed" {
		t.Errorf("err = %v, want IntegrityFailure decryption failed", err)
	}
	if fault.CategoryOf(err).Transient() {
		t.Error("decryption failure must not be retried")
	}
}

func TestTranscriptionDurationGates(t *testing.T) {
	tests := []struct {
		name       string
		duration   float64
		maxSec     float64 // configured cap, seconds
		maxMinutes int     // user preference
		wantCall   bool
	}{
		{"below minimum", 0.9, 60, 60, false},
		{"at minimum", 1.0, 60, 60, true},
		{"at configured cap", 60.0, 60, 60, true},
		{"just above configured cap", 60.1, 60, 60, false},
		{"user cap binds under a raised cap", 900, 3600, 15, true},
		{"above user cap", 901, 3600, 15, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.MaxDurationSec = tt.maxSec
			r := newRig(opts)
			r.transcoder.duration = tt.duration
			job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())
			p := database.DefaultPreferences("u1")
			p.RecordingMaxMinutes = tt.maxMinutes
			r.store.prefs["u1"] = p

			if err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job); err != nil {
				t.Fatalf("duration gate must skip, not fail: %v", err)
			}
			if got := r.speech.calls > 0; got != tt.wantCall {
				t.Errorf("speech called = %v, want %v", got, tt.wantCall)
			}
			if !tt.wantCall && len(r.store.transcripts) != 0 {
				t.Error("transcript stored for gated audio")
			}
		})
	}
}

func TestTranscriptionSilentAudio(t *testing.T) {
	r := newRig(testOptions())
	r.speech.text = "   "
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())

	if err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job); err != nil {
		t.Fatalf("silent audio should complete: %v", err)
	}
	if len(r.store.transcripts) != 0 {
		t.Error("transcript stored for silent audio")
	}
	if !r.billing.charged(ledger.OpTranscribe) {
		t.Error("speech call not charged for silent audio")
	}
}

func TestTranscriptionTransientSpeechError(t *testing.T) {
	r := newRig(testOptions())
	r.speech.err = fault.New(fault.Unavailable, "speech api 503")
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())

	err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.CategoryOf(err).Transient() {
		t.Errorf("err = %v, want transient", err)
	}
	if r.billing.charged(ledger.OpTranscribe) {
		t.Error("failed speech call must not be charged")
	}
	if len(r.store.transcripts) != 0 {
		t.Error("transcript stored after failed transcription")
	}
}

func TestTranscriptionLedgerOutageRetries(t *testing.T) {
	r := newRig(testOptions())
	r.billing.chargeErr = fault.New(fault.Unavailable, "ledger down")
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())

	err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.CategoryOf(err).Transient() {
		t.Fatalf("err = %v, want transient so the job releases to pending", err)
	}
	if len(r.store.transcripts) != 0 {
		t.Error("transcript stored despite ledger outage")
	}
}

func TestTranscriptionPermanentChargeErrorSwallowed(t *testing.T) {
	// A non-retryable billing failure must not fail work that already
	// happened; the charge is logged and the transcript still lands.
	r := newRig(testOptions())
	r.billing.chargeErr = fault.New(fault.InvalidInput, "unknown operation")
	job := seedAudio(t, r, "u1", []byte("audio"), time.Now().UTC())

	if err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job); err != nil {
		t.Fatalf("runTranscription: %v", err)
	}
	if len(r.store.transcripts) != 1 {
		t.Errorf("transcripts = %d, want 1", len(r.store.transcripts))
	}
}

func TestTranscriptionUnsupportedFormat(t *testing.T) {
	r := newRig(testOptions())
	r.transcoder.err = fault.New(fault.UnsupportedFormat, "ffmpeg rejected input")
	job := seedAudio(t, r, "u1", []byte("not audio"), time.Now().UTC())

	err := r.proc.runTranscription(context.Background(), zerolog.Nop(), job)
	if !fault.Is(err, fault.UnsupportedFormat) {
		t.Errorf("err = %v, want UnsupportedFormat", err)
	}
	if fault.CategoryOf(err).Transient() {
		t.Error("unsupported format must not be retried")
	}
}
