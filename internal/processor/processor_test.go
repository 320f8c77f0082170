package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/keyvault"
	"github.com/snarg/vox-engine/internal/ledger"
	"github.com/snarg/vox-engine/internal/summarize"
)

// fakeStore is an in-memory Store covering what the pipelines touch.
type fakeStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*database.Job
	files       map[uuid.UUID]*database.AudioFile
	prefs       map[string]*database.Preferences
	transcripts []*database.Transcript
	summaries   map[string]database.SummaryBody // userID|date
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[uuid.UUID]*database.Job{},
		files:     map[uuid.UUID]*database.AudioFile{},
		prefs:     map[string]*database.Preferences{},
		summaries: map[string]database.SummaryBody{},
	}
}

func (f *fakeStore) PendingJobs(_ context.Context, limit int) ([]database.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Job
	for _, j := range f.jobs {
		if j.Status == database.StatusPending && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimJob(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != database.StatusPending {
		return false, nil
	}
	j.Status = database.StatusProcessing
	j.Attempts++
	t := now
	j.LastAttemptAt = &t
	return true, nil
}

func (f *fakeStore) CompleteJob(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != database.StatusProcessing {
		return false, nil
	}
	j.Status = database.StatusCompleted
	t := now
	j.CompletedAt = &t
	return true, nil
}

func (f *fakeStore) FailJob(_ context.Context, id uuid.UUID, expected database.JobStatus, reason string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != expected {
		return false, nil
	}
	j.Status = database.StatusFailed
	j.ErrorMessage = &reason
	t := now
	j.CompletedAt = &t
	return true, nil
}

func (f *fakeStore) ReleaseJob(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != database.StatusProcessing {
		return false, nil
	}
	j.Status = database.StatusPending
	return true, nil
}

func (f *fakeStore) ReapStaleProcessing(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.Status == database.StatusProcessing && j.LastAttemptAt != nil && j.LastAttemptAt.Before(cutoff) {
			j.Status = database.StatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetAudioFile(_ context.Context, userID string, id uuid.UUID) (*database.AudioFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	af, ok := f.files[id]
	if !ok || af.UserID != userID {
		return nil, fault.New(fault.NotFound, "audio file not found")
	}
	return af, nil
}

func (f *fakeStore) GetPreferences(_ context.Context, userID string) (*database.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[userID], nil
}

func (f *fakeStore) InsertTranscript(_ context.Context, t *database.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, t)
	return nil
}

func (f *fakeStore) TranscriptsInRange(_ context.Context, userID string, from, to time.Time) ([]database.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Transcript
	for _, t := range f.transcripts {
		if t.UserID == userID && !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveSummary(_ context.Context, _ []byte, userID string, date time.Time, body database.SummaryBody, _ time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[userID+"|"+date.Format("2006-01-02")] = body
	return uuid.New(), nil
}

type fakeBlobs struct {
	blobs map[string][]byte
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := f.blobs[key]
	if !ok {
		return nil, fault.New(fault.NotFound, "blob not found")
	}
	return b, nil
}
func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	f.blobs[key] = data
	return nil
}
func (f *fakeBlobs) SignForUpload(context.Context, string) (string, error) { return "", nil }

func (f *fakeBlobs) Type() string { return "fake" }

type fakeBilling struct {
	mu        sync.Mutex
	credit    bool
	chargeErr error
	charges   []ledger.Operation
	qtys      map[ledger.Operation]decimal.Decimal
}

func (f *fakeBilling) HasCredit(context.Context, string) (bool, error) { return f.credit, nil }
func (f *fakeBilling) Charge(_ context.Context, _ string, op ledger.Operation, qty decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chargeErr != nil {
		return decimal.Zero, f.chargeErr
	}
	f.charges = append(f.charges, op)
	if f.qtys == nil {
		f.qtys = map[ledger.Operation]decimal.Decimal{}
	}
	f.qtys[op] = qty
	return ledger.Cost(op, qty), nil
}

func (f *fakeBilling) charged(op ledger.Operation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.charges {
		if c == op {
			return true
		}
	}
	return false
}

type fakeSpeech struct {
	text  string
	err   error
	calls int
}

func (f *fakeSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	f.calls++
	return f.text, f.err
}
func (f *fakeSpeech) Name() string  { return "fake" }
func (f *fakeSpeech) Model() string { return "fake-1" }

type fakeSummarizer struct {
	result *summarize.Result
	err    error
	calls  int
	input  string
}

func (f *fakeSummarizer) Summarize(_ context.Context, transcripts string) (*summarize.Result, error) {
	f.calls++
	f.input = transcripts
	return f.result, f.err
}

type fakeMailer struct {
	to, subject, body string
	err               error
	calls             int
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) (string, error) {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}
func (f *fakeMailer) Name() string { return "fake" }

type fakeTranscoder struct {
	duration float64
	err      error
}

func (f *fakeTranscoder) Normalize(_ context.Context, in []byte, _ string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return in, nil
}
func (f *fakeTranscoder) DurationSeconds(context.Context, []byte) (float64, error) {
	return f.duration, nil
}

func testOptions() Options {
	return Options{
		PollInterval:      30 * time.Second,
		MaxConcurrentJobs: 4,
		MaxAttempts:       3,
		RetryBackoff:      10 * time.Minute,
		ProcessingTimeout: 5 * time.Minute,
		JobMaxAge:         24 * time.Hour,
		MaxFileSize:       5 * 1024 * 1024,
		MinDurationSec:    1,
		MaxDurationSec:    60,
	}
}

type testRig struct {
	proc       *Processor
	store      *fakeStore
	blobs      *fakeBlobs
	vault      *keyvault.MemoryVault
	billing    *fakeBilling
	speech     *fakeSpeech
	summarizer *fakeSummarizer
	mail       *fakeMailer
	transcoder *fakeTranscoder
}

func newRig(opts Options) *testRig {
	r := &testRig{
		store:      newFakeStore(),
		blobs:      &fakeBlobs{blobs: map[string][]byte{}},
		vault:      keyvault.NewMemoryVault(),
		billing:    &fakeBilling{credit: true},
		speech:     &fakeSpeech{text: "remember to call the plumber"},
		summarizer: &fakeSummarizer{result: &summarize.Result{Family: []string{"dinner at six"}, Business: []string{}, Misc: []string{}, TokensIn: 900, TokensOut: 120}},
		mail:       &fakeMailer{},
		transcoder: &fakeTranscoder{duration: 42},
	}
	r.proc = New(r.store, r.blobs, r.vault, r.billing, r.speech, r.summarizer, r.mail, r.transcoder, opts, zerolog.Nop())
	return r
}

func TestEvaluate(t *testing.T) {
	p := newRig(testOptions()).proc
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Minute)
	longAgo := now.Add(-11 * time.Minute)
	exactBackoff := now.Add(-10 * time.Minute)

	tests := []struct {
		name       string
		job        database.Job
		want       verdict
		wantReason string
	}{
		{"fresh job runs", database.Job{CreatedAt: recent}, verdictRun, ""},
		{"attempts exhausted", database.Job{CreatedAt: recent, Attempts: 3}, verdictFail, "exceeded max retries"},
		{"attempts below limit", database.Job{CreatedAt: recent, Attempts: 2, LastAttemptAt: &longAgo}, verdictRun, ""},
		{"aged out", database.Job{CreatedAt: now.Add(-24 * time.Hour)}, verdictFail, "job aged out"},
		{"just under max age", database.Job{CreatedAt: now.Add(-24*time.Hour + time.Second)}, verdictRun, ""},
		{"inside backoff", database.Job{CreatedAt: recent, Attempts: 1, LastAttemptAt: &recent}, verdictSkip, ""},
		{"backoff elapsed exactly", database.Job{CreatedAt: recent, Attempts: 1, LastAttemptAt: &exactBackoff}, verdictRun, ""},
		{"exhausted wins over backoff", database.Job{CreatedAt: recent, Attempts: 3, LastAttemptAt: &recent}, verdictFail, "exceeded max retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := p.evaluate(&tt.job, now)
			if got != tt.want || reason != tt.wantReason {
				t.Errorf("evaluate = (%v, %q), want (%v, %q)", got, reason, tt.want, tt.wantReason)
			}
		})
	}
}

func TestSettleOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus database.JobStatus
		wantReason string
	}{
		{"success completes", nil, database.StatusCompleted, ""},
		{"transient releases", fault.New(fault.Unavailable, "speech api down"), database.StatusPending, ""},
		{"rate limit releases", fault.New(fault.RateLimited, "slow down"), database.StatusPending, ""},
		{"timeout releases", fault.New(fault.Timeout, "took too long"), database.StatusPending, ""},
		{"permanent fails", fault.New(fault.IntegrityFailure, "decryption failed"), database.StatusFailed, "decryption failed"},
		{"no credit fails", fault.New(fault.InsufficientCredit, "insufficient credit"), database.StatusFailed, "insufficient credit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(testOptions())
			job := &database.Job{JobID: uuid.New(), UserID: "u1", Kind: database.JobTranscription, Status: database.StatusProcessing, Attempts: 1}
			r.store.jobs[job.JobID] = &database.Job{JobID: job.JobID, Status: database.StatusProcessing}

			r.proc.settle(context.Background(), zerolog.Nop(), job, tt.err)

			stored := r.store.jobs[job.JobID]
			if stored.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", stored.Status, tt.wantStatus)
			}
			if tt.wantReason != "" {
				if stored.ErrorMessage == nil || *stored.ErrorMessage != tt.wantReason {
					t.Errorf("error_message = %v, want %q", stored.ErrorMessage, tt.wantReason)
				}
			}
		})
	}
}

func TestSettleShutdownReleases(t *testing.T) {
	r := newRig(testOptions())
	job := &database.Job{JobID: uuid.New(), Kind: database.JobTranscription, Status: database.StatusProcessing}
	r.store.jobs[job.JobID] = &database.Job{JobID: job.JobID, Status: database.StatusProcessing}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.proc.settle(ctx, zerolog.Nop(), job, fault.New(fault.InvalidInput, "would be permanent"))

	if got := r.store.jobs[job.JobID].Status; got != database.StatusPending {
		t.Errorf("status after shutdown = %s, want pending", got)
	}
}

func TestReapStaleThenClaim(t *testing.T) {
	r := newRig(testOptions())
	stale := time.Now().UTC().Add(-10 * time.Minute)
	id := uuid.New()
	r.store.jobs[id] = &database.Job{
		JobID: id, UserID: "u1", Kind: database.JobTranscription,
		Status: database.StatusProcessing, LastAttemptAt: &stale,
		CreatedAt: time.Now().UTC().Add(-time.Hour), Attempts: 1,
	}

	n, err := r.store.ReapStaleProcessing(context.Background(), time.Now().UTC().Add(-5*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("reap = %d, %v", n, err)
	}
	if r.store.jobs[id].Status != database.StatusPending {
		t.Errorf("status = %s, want pending", r.store.jobs[id].Status)
	}

	ok, err := r.store.ClaimJob(context.Background(), id, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("claim after reap = %v, %v", ok, err)
	}
	if r.store.jobs[id].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", r.store.jobs[id].Attempts)
	}
}

func TestClaimRace(t *testing.T) {
	r := newRig(testOptions())
	id := uuid.New()
	r.store.jobs[id] = &database.Job{JobID: id, Status: database.StatusPending}

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := r.store.ClaimJob(context.Background(), id, time.Now().UTC())
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("claim wins = %d, want exactly 1", wins)
	}
}
