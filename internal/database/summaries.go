package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/snarg/vox-engine/internal/envelope"
	"github.com/snarg/vox-engine/internal/fault"
)

// SummaryBody is the plaintext content of a daily summary: three categorized
// bullet lists. It is stored encrypted under the owner's key.
type SummaryBody struct {
	Family   []string `json:"family"`
	Business []string `json:"business"`
	Misc     []string `json:"misc"`
}

// DailySummary is a decrypted summary row as returned to the owner.
type DailySummary struct {
	SummaryID   uuid.UUID   `json:"summary_id"`
	UserID      string      `json:"user_id"`
	SummaryDate string      `json:"summary_date"` // YYYY-MM-DD
	Body        SummaryBody `json:"body"`
	CreatedAt   time.Time   `json:"created_at"`
}

// SaveSummary encrypts body under key and upserts the row for
// (user_id, summary_date). Re-running a summary job overwrites its output.
func (db *DB) SaveSummary(ctx context.Context, key []byte, userID string, date time.Time, body SummaryBody, now time.Time) (uuid.UUID, error) {
	plaintext, err := json.Marshal(body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal summary body: %w", err)
	}
	blob, err := envelope.Seal(key, plaintext)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encrypt summary body: %w", err)
	}

	id := uuid.New()
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO summaries (summary_id, user_id, summary_date, body_enc, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, summary_date)
		DO UPDATE SET body_enc = EXCLUDED.body_enc, created_at = EXCLUDED.created_at
		RETURNING summary_id
	`, id, userID, date, blob, now.UTC()).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save summary: %w", err)
	}
	return id, nil
}

// GetSummary returns the decrypted summary for a date.
func (db *DB) GetSummary(ctx context.Context, key []byte, userID string, date time.Time) (*DailySummary, error) {
	var (
		s    DailySummary
		d    time.Time
		blob []byte
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT summary_id, user_id, summary_date, body_enc, created_at
		FROM summaries
		WHERE user_id = $1 AND summary_date = $2
	`, userID, date).Scan(&s.SummaryID, &s.UserID, &d, &blob, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "summary not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	if err := decryptSummary(key, blob, &s); err != nil {
		return nil, err
	}
	s.SummaryDate = d.Format("2006-01-02")
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

// ListSummaries returns the caller's summaries newest first, decrypted.
func (db *DB) ListSummaries(ctx context.Context, key []byte, userID string, limit int) ([]DailySummary, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT summary_id, user_id, summary_date, body_enc, created_at
		FROM summaries
		WHERE user_id = $1
		ORDER BY summary_date DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var result []DailySummary
	for rows.Next() {
		var (
			s    DailySummary
			d    time.Time
			blob []byte
		)
		if err := rows.Scan(&s.SummaryID, &s.UserID, &d, &blob, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := decryptSummary(key, blob, &s); err != nil {
			return nil, err
		}
		s.SummaryDate = d.Format("2006-01-02")
		s.CreatedAt = s.CreatedAt.UTC()
		result = append(result, s)
	}
	if result == nil {
		result = []DailySummary{}
	}
	return result, rows.Err()
}

// DeleteSummary removes a summary, ownership-checked.
func (db *DB) DeleteSummary(ctx context.Context, userID string, summaryID uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM summaries WHERE summary_id = $1 AND user_id = $2
	`, summaryID, userID)
	if err != nil {
		return fmt.Errorf("delete summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "summary not found")
	}
	return nil
}

func decryptSummary(key, blob []byte, s *DailySummary) error {
	plaintext, err := envelope.Open(key, blob)
	if err != nil {
		return fmt.Errorf("decrypt summary %s: %w", s.SummaryID, err)
	}
	if err := json.Unmarshal(plaintext, &s.Body); err != nil {
		return fmt.Errorf("decode summary %s: %w", s.SummaryID, err)
	}
	return nil
}
