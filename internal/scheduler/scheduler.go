// Package scheduler enqueues daily summary jobs when each user's preferred
// local delivery time comes around. It ticks frequently but scans preferences
// at most once per check interval; the in-process dedup map plus the partial
// unique index on the jobs table keep the enqueue at-most-once per user per
// day even across restarts and multiple instances.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/metrics"
)

// Store is the database surface the scheduler uses. *database.DB satisfies it.
type Store interface {
	ListDailySummaryEnabled(ctx context.Context) ([]database.Preferences, error)
	InsertDailySummaryJob(ctx context.Context, userID string, date time.Time, now time.Time) (bool, error)
}

// Options configures the scheduler.
type Options struct {
	Tick          time.Duration // loop granularity
	CheckInterval time.Duration // minimum time between preference scans
	MatchWindow   time.Duration // width of the delivery-time match window
}

// Scheduler runs the delivery-time matching loop.
type Scheduler struct {
	store Store
	opts  Options
	log   zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu        sync.Mutex
	lastScan  time.Time
	scheduled map[string]bool // userID → enqueued today
	today     string          // UTC date the dedup map covers
}

func New(store Store, opts Options, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		opts:      opts,
		log:       log.With().Str("component", "scheduler").Logger(),
		scheduled: make(map[string]bool),
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	s.log.Info().
		Dur("tick", s.opts.Tick).
		Dur("check_interval", s.opts.CheckInterval).
		Msg("summary scheduler started")
}

// Stop halts the loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("summary scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	s.tick(ctx, time.Now().UTC())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	s.resetForDate(now)
	due := now.Sub(s.lastScan) >= s.opts.CheckInterval
	if due {
		s.lastScan = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	prefs, err := s.store.ListDailySummaryEnabled(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scan summary preferences failed")
		return
	}

	for i := range prefs {
		p := &prefs[i]
		if !s.matches(p, now) {
			continue
		}

		s.mu.Lock()
		already := s.scheduled[p.UserID]
		if !already {
			s.scheduled[p.UserID] = true
		}
		s.mu.Unlock()
		if already {
			continue
		}

		// The job is stamped with today's UTC date; the processor derives
		// the local window it covers from that date and the user's offset.
		date := utcDate(now)
		inserted, err := s.store.InsertDailySummaryJob(ctx, p.UserID, date, now)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", p.UserID).Msg("enqueue daily summary failed")
			s.mu.Lock()
			delete(s.scheduled, p.UserID)
			s.mu.Unlock()
			continue
		}
		if inserted {
			metrics.SummaryJobsScheduledTotal.Inc()
			s.log.Info().
				Str("user_id", p.UserID).
				Str("summary_date", date.Format("2006-01-02")).
				Msg("daily summary job enqueued")
		}
	}
}

// resetForDate clears the dedup map when the UTC date rolls over.
// Caller holds s.mu.
func (s *Scheduler) resetForDate(now time.Time) {
	day := now.Format("2006-01-02")
	if day != s.today {
		s.today = day
		s.scheduled = make(map[string]bool)
	}
}

// matches reports whether now (UTC) falls inside the user's delivery window:
// [preferred time, preferred time + match window) translated from the user's
// fixed offset to UTC.
func (s *Scheduler) matches(p *database.Preferences, now time.Time) bool {
	prefHour, prefMin, err := parseTimeOfDay(p.SummaryTimeLocal)
	if err != nil {
		s.log.Warn().Str("user_id", p.UserID).Str("summary_time_local", p.SummaryTimeLocal).
			Msg("unparseable delivery time, skipping user")
		return false
	}

	utcHour := ((prefHour-p.TimezoneOffsetHours)%24 + 24) % 24
	windowStart := utcHour*60 + prefMin
	nowMin := now.Hour()*60 + now.Minute()

	width := int(s.opts.MatchWindow / time.Minute)
	diff := ((nowMin-windowStart)%1440 + 1440) % 1440
	return diff < width
}

// utcDate returns the date-only value of now in UTC.
func utcDate(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func parseTimeOfDay(v string) (int, int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time of day %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", v)
	}
	return h, m, nil
}
