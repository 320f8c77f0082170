package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/fault"
)

// CreditAccount is a user's credit balance plus lifetime totals.
type CreditAccount struct {
	UserID        string          `json:"user_id"`
	BalanceUSD    decimal.Decimal `json:"balance_usd"`
	GrantedTotal  decimal.Decimal `json:"granted_total"`
	UsedTotal     decimal.Decimal `json:"used_total"`
	RefundedTotal decimal.Decimal `json:"refunded_total"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UsageRecord is one append-only ledger entry.
type UsageRecord struct {
	UsageID    uuid.UUID       `json:"usage_id"`
	UserID     string          `json:"user_id"`
	Service    string          `json:"service"`
	Operation  string          `json:"operation"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	CostUSD    decimal.Decimal `json:"cost_usd"`
	OccurredAt time.Time       `json:"occurred_at"`
	Month      string          `json:"month"` // YYYY-MM
}

// ServiceTotal is a per-service aggregate of usage cost.
type ServiceTotal struct {
	Service    string          `json:"service"`
	Operations int64           `json:"operations"`
	CostUSD    decimal.Decimal `json:"cost_usd"`
}

// Numeric columns are selected as text and parsed with shopspring/decimal so
// no float arithmetic ever touches money.

// GetCreditAccount returns the user's account.
func (db *DB) GetCreditAccount(ctx context.Context, userID string) (*CreditAccount, error) {
	var a CreditAccount
	var balance, granted, used, refunded string
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, balance_usd::text, granted_total::text, used_total::text, refunded_total::text, updated_at
		FROM credit_accounts
		WHERE user_id = $1
	`, userID).Scan(&a.UserID, &balance, &granted, &used, &refunded, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "credit account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get credit account: %w", err)
	}
	if a.BalanceUSD, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	if a.GrantedTotal, err = decimal.NewFromString(granted); err != nil {
		return nil, fmt.Errorf("parse granted_total: %w", err)
	}
	if a.UsedTotal, err = decimal.NewFromString(used); err != nil {
		return nil, fmt.Errorf("parse used_total: %w", err)
	}
	if a.RefundedTotal, err = decimal.NewFromString(refunded); err != nil {
		return nil, fmt.Errorf("parse refunded_total: %w", err)
	}
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// DebitBalance applies a compare-and-swap debit: the update only lands if the
// balance still equals expected. Returns false on a lost race so the caller
// can re-read and retry once.
func (db *DB) DebitBalance(ctx context.Context, userID string, cost, expected decimal.Decimal) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE credit_accounts
		SET balance_usd = balance_usd - $2::numeric,
			used_total = used_total + $2::numeric,
			updated_at = now()
		WHERE user_id = $1 AND balance_usd = $3::numeric
	`, userID, cost.String(), expected.String())
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GrantCredit credits the account, creating it on first grant.
func (db *DB) GrantCredit(ctx context.Context, userID string, amount decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO credit_accounts (user_id, balance_usd, granted_total, updated_at)
		VALUES ($1, $2::numeric, $2::numeric, now())
		ON CONFLICT (user_id) DO UPDATE SET
			balance_usd = credit_accounts.balance_usd + EXCLUDED.balance_usd,
			granted_total = credit_accounts.granted_total + EXCLUDED.granted_total,
			updated_at = now()
	`, userID, amount.String())
	if err != nil {
		return fmt.Errorf("grant credit: %w", err)
	}
	return nil
}

// InsertUsageRecord appends one ledger entry.
func (db *DB) InsertUsageRecord(ctx context.Context, r *UsageRecord) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO usage_records (usage_id, user_id, service, operation, quantity, unit, cost_usd, occurred_at, month)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9)
	`, r.UsageID, r.UserID, r.Service, r.Operation, r.Quantity.String(), r.Unit,
		r.CostUSD.String(), r.OccurredAt.UTC(), r.Month)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// UsageTotals returns per-service cost aggregates for one month (YYYY-MM) or,
// with an empty month, for all time.
func (db *DB) UsageTotals(ctx context.Context, userID, month string) ([]ServiceTotal, error) {
	query := `
		SELECT service, count(*), COALESCE(sum(cost_usd), 0)::text
		FROM usage_records
		WHERE user_id = $1`
	args := []any{userID}
	if month != "" {
		query += ` AND month = $2`
		args = append(args, month)
	}
	query += ` GROUP BY service ORDER BY service`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	defer rows.Close()

	var result []ServiceTotal
	for rows.Next() {
		var (
			st   ServiceTotal
			cost string
		)
		if err := rows.Scan(&st.Service, &st.Operations, &cost); err != nil {
			return nil, err
		}
		if st.CostUSD, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("parse cost: %w", err)
		}
		result = append(result, st)
	}
	if result == nil {
		result = []ServiceTotal{}
	}
	return result, rows.Err()
}
