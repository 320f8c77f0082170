package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/snarg/vox-engine/internal/fault"
)

// Preferences holds per-user settings read by the scheduler and processor.
type Preferences struct {
	UserID              string    `json:"user_id"`
	NotificationEmail   string    `json:"notification_email"`
	EnableDailySummary  bool      `json:"enable_daily_summary"`
	EnableTranscription bool      `json:"enable_transcription"`
	SummaryTimeLocal    string    `json:"summary_time_local"` // HH:MM, 24h
	TimezoneOffsetHours int       `json:"timezone_offset_hours"`
	RecordingMaxMinutes int       `json:"recording_max_duration_minutes"`
	UpdatedAt           time.Time `json:"updated_at"`
}

var timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// Validate checks the field ranges documented on the preferences table.
func (p *Preferences) Validate() error {
	if !timeOfDayRe.MatchString(p.SummaryTimeLocal) {
		return fault.New(fault.InvalidInput, fmt.Sprintf("summary_time_local %q: want HH:MM 24h", p.SummaryTimeLocal))
	}
	if p.TimezoneOffsetHours < -12 || p.TimezoneOffsetHours > 14 {
		return fault.New(fault.InvalidInput, fmt.Sprintf("timezone_offset_hours %d out of range [-12, 14]", p.TimezoneOffsetHours))
	}
	if p.RecordingMaxMinutes < 15 || p.RecordingMaxMinutes > 180 {
		return fault.New(fault.InvalidInput, fmt.Sprintf("recording_max_duration_minutes %d out of range [15, 180]", p.RecordingMaxMinutes))
	}
	return nil
}

// DefaultPreferences returns the zero-configuration settings for a user.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:              userID,
		EnableTranscription: true,
		SummaryTimeLocal:    "08:00",
		RecordingMaxMinutes: 60,
	}
}

// GetPreferences returns the user's preferences, or nil if never set.
func (db *DB) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var p Preferences
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, notification_email, enable_daily_summary, enable_transcription,
			summary_time_local, timezone_offset_hours, recording_max_duration_minutes, updated_at
		FROM preferences
		WHERE user_id = $1
	`, userID).Scan(
		&p.UserID, &p.NotificationEmail, &p.EnableDailySummary, &p.EnableTranscription,
		&p.SummaryTimeLocal, &p.TimezoneOffsetHours, &p.RecordingMaxMinutes, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// UpsertPreferences writes the user's preferences.
func (db *DB) UpsertPreferences(ctx context.Context, p *Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO preferences (user_id, notification_email, enable_daily_summary, enable_transcription,
			summary_time_local, timezone_offset_hours, recording_max_duration_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id) DO UPDATE SET
			notification_email = EXCLUDED.notification_email,
			enable_daily_summary = EXCLUDED.enable_daily_summary,
			enable_transcription = EXCLUDED.enable_transcription,
			summary_time_local = EXCLUDED.summary_time_local,
			timezone_offset_hours = EXCLUDED.timezone_offset_hours,
			recording_max_duration_minutes = EXCLUDED.recording_max_duration_minutes,
			updated_at = now()
	`, p.UserID, p.NotificationEmail, p.EnableDailySummary, p.EnableTranscription,
		p.SummaryTimeLocal, p.TimezoneOffsetHours, p.RecordingMaxMinutes)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// ListDailySummaryEnabled returns the preferences of every user who has daily
// summaries switched on. The scheduler scans this at most once per check
// interval.
func (db *DB) ListDailySummaryEnabled(ctx context.Context) ([]Preferences, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT user_id, notification_email, enable_daily_summary, enable_transcription,
			summary_time_local, timezone_offset_hours, recording_max_duration_minutes, updated_at
		FROM preferences
		WHERE enable_daily_summary = true
	`)
	if err != nil {
		return nil, fmt.Errorf("list daily summary enabled: %w", err)
	}
	defer rows.Close()

	var result []Preferences
	for rows.Next() {
		var p Preferences
		if err := rows.Scan(
			&p.UserID, &p.NotificationEmail, &p.EnableDailySummary, &p.EnableTranscription,
			&p.SummaryTimeLocal, &p.TimezoneOffsetHours, &p.RecordingMaxMinutes, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		result = append(result, p)
	}
	if result == nil {
		result = []Preferences{}
	}
	return result, rows.Err()
}
