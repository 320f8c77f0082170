package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/vox-engine/internal/database"
)

type fakeStore struct {
	mu       sync.Mutex
	prefs    []database.Preferences
	inserted []insertedJob
	existing map[string]bool // userID|date already has a non-failed job
	scans    int
}

type insertedJob struct {
	userID string
	date   string
}

func (f *fakeStore) ListDailySummaryEnabled(context.Context) ([]database.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return f.prefs, nil
}

func (f *fakeStore) InsertDailySummaryJob(_ context.Context, userID string, date time.Time, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "|" + date.Format("2006-01-02")
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	if f.existing[key] {
		return false, nil
	}
	f.existing[key] = true
	f.inserted = append(f.inserted, insertedJob{userID, date.Format("2006-01-02")})
	return true, nil
}

func testOptions() Options {
	return Options{
		Tick:          30 * time.Second,
		CheckInterval: 5 * time.Minute,
		MatchWindow:   5 * time.Minute,
	}
}

func newScheduler(prefs ...database.Preferences) (*Scheduler, *fakeStore) {
	store := &fakeStore{prefs: prefs}
	return New(store, testOptions(), zerolog.Nop()), store
}

func userPrefs(userID, timeLocal string, offset int) database.Preferences {
	return database.Preferences{
		UserID:              userID,
		EnableDailySummary:  true,
		NotificationEmail:   userID + "@example.com",
		SummaryTimeLocal:    timeLocal,
		TimezoneOffsetHours: offset,
	}
}

// A 09:00 preference at UTC-6 maps to 15:00 UTC; the job should fire inside
// [15:00, 15:05) and carry the UTC date of the match instant.
func TestDeliveryWindow(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"minute before window", time.Date(2026, 8, 24, 14, 59, 0, 0, time.UTC), false},
		{"window start", time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC), true},
		{"mid window", time.Date(2026, 8, 24, 15, 2, 30, 0, time.UTC), true},
		{"last matching minute", time.Date(2026, 8, 24, 15, 4, 59, 0, time.UTC), true},
		{"window end", time.Date(2026, 8, 24, 15, 5, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newScheduler(userPrefs("u1", "09:00", -6))
			s.tick(context.Background(), tt.now)
			got := len(store.inserted) == 1
			if got != tt.want {
				t.Errorf("inserted = %v, want %v", got, tt.want)
			}
			if tt.want {
				if store.inserted[0].date != "2026-08-24" {
					t.Errorf("summary date = %s, want today's UTC date 2026-08-24", store.inserted[0].date)
				}
			}
		})
	}
}

func TestOffsetWrapsAroundMidnight(t *testing.T) {
	// 07:30 local at UTC+9 is 22:30 UTC the previous day.
	s, store := newScheduler(userPrefs("u1", "07:30", 9))
	now := time.Date(2026, 8, 23, 22, 31, 0, 0, time.UTC)
	s.tick(context.Background(), now)

	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(store.inserted))
	}
	// The match instant is still 2026-08-23 in UTC, so that date is stamped
	// even though the user's clock already reads the 24th.
	if store.inserted[0].date != "2026-08-23" {
		t.Errorf("summary date = %s, want 2026-08-23", store.inserted[0].date)
	}
}

func TestNoDuplicateWithinWindow(t *testing.T) {
	s, store := newScheduler(userPrefs("u1", "09:00", -6))
	base := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)

	// Force a rescan each minute by backdating the last scan.
	for i := 0; i < 5; i++ {
		s.mu.Lock()
		s.lastScan = time.Time{}
		s.mu.Unlock()
		s.tick(context.Background(), base.Add(time.Duration(i)*time.Minute))
	}

	if len(store.inserted) != 1 {
		t.Errorf("inserted = %d, want 1 despite repeated matching ticks", len(store.inserted))
	}
}

func TestNextDaySchedulesAgain(t *testing.T) {
	s, store := newScheduler(userPrefs("u1", "09:00", -6))

	s.tick(context.Background(), time.Date(2026, 8, 24, 15, 1, 0, 0, time.UTC))
	s.mu.Lock()
	s.lastScan = time.Time{}
	s.mu.Unlock()
	s.tick(context.Background(), time.Date(2026, 8, 25, 15, 1, 0, 0, time.UTC))

	if len(store.inserted) != 2 {
		t.Fatalf("inserted = %d, want 2", len(store.inserted))
	}
	if store.inserted[0].date != "2026-08-24" || store.inserted[1].date != "2026-08-25" {
		t.Errorf("dates = %v", store.inserted)
	}
}

func TestDatabaseDedupAcrossRestart(t *testing.T) {
	// A second scheduler instance (fresh dedup map, same store) loses the
	// insert race via the conditional insert.
	store := &fakeStore{prefs: []database.Preferences{userPrefs("u1", "09:00", -6)}}
	first := New(store, testOptions(), zerolog.Nop())
	second := New(store, testOptions(), zerolog.Nop())

	now := time.Date(2026, 8, 24, 15, 1, 0, 0, time.UTC)
	first.tick(context.Background(), now)
	second.tick(context.Background(), now)

	if len(store.inserted) != 1 {
		t.Errorf("inserted = %d, want 1 across two instances", len(store.inserted))
	}
}

func TestScanThrottle(t *testing.T) {
	s, store := newScheduler(userPrefs("u1", "09:00", -6))
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	s.tick(context.Background(), base)
	s.tick(context.Background(), base.Add(30*time.Second))
	s.tick(context.Background(), base.Add(60*time.Second))
	if store.scans != 1 {
		t.Errorf("scans = %d, want 1 inside the check interval", store.scans)
	}

	s.tick(context.Background(), base.Add(5*time.Minute))
	if store.scans != 2 {
		t.Errorf("scans = %d, want 2 after the check interval", store.scans)
	}
}

func TestMalformedTimeSkipsUser(t *testing.T) {
	bad := userPrefs("u1", "9am", 0)
	good := userPrefs("u2", "12:00", 0)
	s, store := newScheduler(bad, good)

	s.tick(context.Background(), time.Date(2026, 8, 24, 12, 1, 0, 0, time.UTC))
	if len(store.inserted) != 1 || store.inserted[0].userID != "u2" {
		t.Errorf("inserted = %v, want only u2", store.inserted)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"09:00", 9, 0, false},
		{"23:59", 23, 59, false},
		{"00:00", 0, 0, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := parseTimeOfDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTimeOfDay(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && (h != tt.h || m != tt.m) {
			t.Errorf("parseTimeOfDay(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.h, tt.m)
		}
	}
}
