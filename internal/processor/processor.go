// Package processor drains the job queue: it polls for pending work, claims
// jobs with a conditional update, and runs the transcription and daily
// summary pipelines under a bounded worker pool. The conditional state
// transitions in the jobs table are the only concurrency control; any number
// of processor instances can run against the same database.
package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/keyvault"
	"github.com/snarg/vox-engine/internal/ledger"
	"github.com/snarg/vox-engine/internal/mailer"
	"github.com/snarg/vox-engine/internal/metrics"
	"github.com/snarg/vox-engine/internal/speech"
	"github.com/snarg/vox-engine/internal/storage"
	"github.com/snarg/vox-engine/internal/summarize"
)

// Store is the slice of the database layer the processor uses.
// *database.DB satisfies it.
type Store interface {
	PendingJobs(ctx context.Context, limit int) ([]database.Job, error)
	ClaimJob(ctx context.Context, jobID uuid.UUID, now time.Time) (bool, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, now time.Time) (bool, error)
	FailJob(ctx context.Context, jobID uuid.UUID, expected database.JobStatus, reason string, now time.Time) (bool, error)
	ReleaseJob(ctx context.Context, jobID uuid.UUID) (bool, error)
	ReapStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)

	GetAudioFile(ctx context.Context, userID string, fileID uuid.UUID) (*database.AudioFile, error)
	GetPreferences(ctx context.Context, userID string) (*database.Preferences, error)
	InsertTranscript(ctx context.Context, t *database.Transcript) error
	TranscriptsInRange(ctx context.Context, userID string, from, to time.Time) ([]database.Transcript, error)
	SaveSummary(ctx context.Context, key []byte, userID string, date time.Time, body database.SummaryBody, now time.Time) (uuid.UUID, error)
}

// Billing is the ledger surface the pipelines charge against.
type Billing interface {
	HasCredit(ctx context.Context, userID string) (bool, error)
	Charge(ctx context.Context, userID string, op ledger.Operation, quantity decimal.Decimal) (decimal.Decimal, error)
}

// Summarizer produces the categorized daily digest. *summarize.Client
// satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, transcripts string) (*summarize.Result, error)
}

// Transcoder normalizes audio and probes its duration. *transcode.Transcoder
// satisfies it.
type Transcoder interface {
	Normalize(ctx context.Context, in []byte, sourceHint string) ([]byte, error)
	DurationSeconds(ctx context.Context, data []byte) (float64, error)
}

// Options configures the processor.
type Options struct {
	PollInterval      time.Duration
	MaxConcurrentJobs int
	MaxAttempts       int
	RetryBackoff      time.Duration
	ProcessingTimeout time.Duration
	JobMaxAge         time.Duration
	MaxFileSize       int64
	MinDurationSec    float64 // shorter recordings are skipped, not failed
	MaxDurationSec    float64 // upper cap in seconds, further limited by user preference
}

// Processor owns the poll loop and worker pool.
type Processor struct {
	store      Store
	blobs      storage.BlobStore
	keys       keyvault.Vault
	billing    Billing
	speech     speech.Provider
	summarizer Summarizer
	mail       mailer.Sender
	transcoder Transcoder
	opts       Options
	log        zerolog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc

	pending atomic.Int64
	active  atomic.Int64
}

func New(store Store, blobs storage.BlobStore, keys keyvault.Vault, billing Billing,
	sp speech.Provider, summarizer Summarizer, mail mailer.Sender, tc Transcoder,
	opts Options, log zerolog.Logger) *Processor {
	return &Processor{
		store:      store,
		blobs:      blobs,
		keys:       keys,
		billing:    billing,
		speech:     sp,
		summarizer: summarizer,
		mail:       mail,
		transcoder: tc,
		opts:       opts,
		log:        log.With().Str("component", "processor").Logger(),
		sem:        make(chan struct{}, opts.MaxConcurrentJobs),
	}
}

// Start launches the poll loop.
func (p *Processor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
	p.log.Info().
		Dur("poll_interval", p.opts.PollInterval).
		Int("max_concurrent", p.opts.MaxConcurrentJobs).
		Msg("job processor started")
}

// Stop halts polling and waits for in-flight jobs to release or finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("job processor stopped")
}

// PendingCount reports the pending jobs seen on the last poll (for metrics).
func (p *Processor) PendingCount() int64 { return p.pending.Load() }

// ActiveWorkers reports workers currently executing a job (for metrics).
func (p *Processor) ActiveWorkers() int { return int(p.active.Load()) }

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	now := time.Now().UTC()

	// Recover work orphaned by a crashed worker before looking for new work.
	reaped, err := p.store.ReapStaleProcessing(ctx, now.Add(-p.opts.ProcessingTimeout))
	if err != nil {
		p.log.Error().Err(err).Msg("reap stale processing failed")
	} else if reaped > 0 {
		metrics.JobsReapedTotal.Add(float64(reaped))
		p.log.Warn().Int64("count", reaped).Msg("returned stale processing jobs to pending")
	}

	jobs, err := p.store.PendingJobs(ctx, 4*p.opts.MaxConcurrentJobs)
	if err != nil {
		p.log.Error().Err(err).Msg("query pending jobs failed")
		return
	}
	p.pending.Store(int64(len(jobs)))

	for i := range jobs {
		job := jobs[i]
		switch verdict, reason := p.evaluate(&job, now); verdict {
		case verdictSkip:
			continue
		case verdictFail:
			// Fails straight from pending, no claim and no external calls.
			if ok, err := p.store.FailJob(ctx, job.JobID, database.StatusPending, reason, now); err != nil {
				p.log.Error().Err(err).Str("job_id", job.JobID.String()).Msg("fail job")
			} else if ok {
				metrics.JobsFailedTotal.WithLabelValues(string(job.Kind), "exhausted").Inc()
				p.logTransition(&job, database.StatusPending, database.StatusFailed, reason)
			}
			continue
		}

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		claimed, err := p.store.ClaimJob(ctx, job.JobID, time.Now().UTC())
		if err != nil || !claimed {
			<-p.sem
			if err != nil {
				p.log.Error().Err(err).Str("job_id", job.JobID.String()).Msg("claim job")
			}
			continue
		}
		job.Status = database.StatusProcessing
		job.Attempts++
		p.logTransition(&job, database.StatusPending, database.StatusProcessing, "")

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.execute(ctx, &job)
		}()
	}
}

type verdict int

const (
	verdictRun verdict = iota
	verdictSkip
	verdictFail
)

// evaluate applies the eligibility filter to a pending job. Exhausted and
// aged-out jobs fail without another attempt; jobs inside the retry backoff
// are skipped until a later poll.
func (p *Processor) evaluate(j *database.Job, now time.Time) (verdict, string) {
	if j.Attempts >= p.opts.MaxAttempts {
		return verdictFail, "exceeded max retries"
	}
	if now.Sub(j.CreatedAt) >= p.opts.JobMaxAge {
		return verdictFail, "job aged out"
	}
	if j.LastAttemptAt != nil && now.Sub(*j.LastAttemptAt) < p.opts.RetryBackoff {
		return verdictSkip, ""
	}
	return verdictRun, ""
}

func (p *Processor) execute(ctx context.Context, job *database.Job) {
	p.active.Add(1)
	defer p.active.Add(-1)
	start := time.Now()

	jctx, cancel := context.WithTimeout(ctx, p.opts.ProcessingTimeout)
	defer cancel()

	log := p.log.With().
		Str("job_id", job.JobID.String()).
		Str("user_id", job.UserID).
		Str("kind", string(job.Kind)).
		Int("attempts", job.Attempts).
		Logger()

	var err error
	switch job.Kind {
	case database.JobTranscription:
		err = p.runTranscription(jctx, log, job)
	case database.JobDailySummary:
		err = p.runDailySummary(jctx, log, job)
	default:
		err = fault.Errorf(fault.InvalidInput, nil, "unknown job kind %q", job.Kind)
	}

	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
	p.settle(ctx, log, job, err)
}

// settle records the job's outcome. The parent context (not the per-job one)
// is used for the state write so a finished job is never lost to its own
// deadline; on shutdown a short grace window applies.
func (p *Processor) settle(ctx context.Context, log zerolog.Logger, job *database.Job, jobErr error) {
	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	now := time.Now().UTC()

	if jobErr == nil {
		if ok, err := p.store.CompleteJob(wctx, job.JobID, now); err != nil {
			log.Error().Err(err).Msg("complete job")
		} else if ok {
			metrics.JobsCompletedTotal.WithLabelValues(string(job.Kind)).Inc()
			p.logTransition(job, database.StatusProcessing, database.StatusCompleted, "")
		}
		return
	}

	cat := fault.CategoryOf(jobErr)
	if ctx.Err() != nil || cat.Transient() {
		if ok, err := p.store.ReleaseJob(wctx, job.JobID); err != nil {
			log.Error().Err(err).Msg("release job")
		} else if ok {
			metrics.JobsRetriedTotal.WithLabelValues(string(job.Kind)).Inc()
			log.Warn().Err(jobErr).Str("category", cat.String()).Msg("job released for retry")
			p.logTransition(job, database.StatusProcessing, database.StatusPending, reasonOf(jobErr))
		}
		return
	}

	reason := reasonOf(jobErr)
	if ok, err := p.store.FailJob(wctx, job.JobID, database.StatusProcessing, reason, now); err != nil {
		log.Error().Err(err).Msg("fail job")
	} else if ok {
		metrics.JobsFailedTotal.WithLabelValues(string(job.Kind), cat.String()).Inc()
		log.Error().Err(jobErr).Str("category", cat.String()).Msg("job failed permanently")
		p.logTransition(job, database.StatusProcessing, database.StatusFailed, reason)
	}
}

// reasonOf extracts the short failure reason stored on the job row: the
// categorized message when present, the raw error text otherwise.
func reasonOf(err error) string {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Msg != "" {
		return fe.Msg
	}
	return err.Error()
}

func (p *Processor) logTransition(job *database.Job, from, to database.JobStatus, reason string) {
	ev := p.log.Info()
	if to == database.StatusFailed {
		ev = p.log.Error()
	}
	ev.Str("job_id", job.JobID.String()).
		Str("user_id", job.UserID).
		Str("kind", string(job.Kind)).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("attempts", job.Attempts)
	if reason != "" {
		ev = ev.Str("reason", reason)
	}
	ev.Msg("job transition")
}
