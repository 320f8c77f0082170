// Package ledger tracks credit balances and per-operation usage cost.
// All money math runs on shopspring decimals; floats never touch a balance.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	GetCreditAccount(ctx context.Context, userID string) (*database.CreditAccount, error)
	DebitBalance(ctx context.Context, userID string, cost, expected decimal.Decimal) (bool, error)
	GrantCredit(ctx context.Context, userID string, amount decimal.Decimal) error
	InsertUsageRecord(ctx context.Context, r *database.UsageRecord) error
	UsageTotals(ctx context.Context, userID, month string) ([]database.ServiceTotal, error)
}

// Ledger charges usage against credit accounts and appends usage records.
type Ledger struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
	}
}

// HasCredit reports whether the user holds a positive balance. A missing
// account counts as no credit, not an error.
func (l *Ledger) HasCredit(ctx context.Context, userID string) (bool, error) {
	acct, err := l.store.GetCreditAccount(ctx, userID)
	if fault.Is(err, fault.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acct.BalanceUSD.IsPositive(), nil
}

// Charge debits the account for one operation and appends a usage record.
// The debit uses compare-and-swap against the balance read just before, with
// one retry on a lost race. Charges land even when they drive the balance
// negative; gating on funds is HasCredit's job before the work starts.
func (l *Ledger) Charge(ctx context.Context, userID string, op Operation, quantity decimal.Decimal) (decimal.Decimal, error) {
	cost := Cost(op, quantity)
	r := rates[op]

	if cost.IsPositive() {
		if err := l.debit(ctx, userID, cost); err != nil {
			return decimal.Zero, err
		}
	}

	now := time.Now().UTC()
	rec := &database.UsageRecord{
		UsageID:    uuid.New(),
		UserID:     userID,
		Service:    r.service,
		Operation:  string(op),
		Quantity:   quantity,
		Unit:       r.unit,
		CostUSD:    cost,
		OccurredAt: now,
		Month:      now.Format("2006-01"),
	}
	if err := l.store.InsertUsageRecord(ctx, rec); err != nil {
		return decimal.Zero, err
	}

	l.log.Debug().
		Str("user_id", userID).
		Str("service", r.service).
		Str("operation", string(op)).
		Str("quantity", quantity.String()).
		Str("cost_usd", cost.String()).
		Msg("usage charged")
	return cost, nil
}

func (l *Ledger) debit(ctx context.Context, userID string, cost decimal.Decimal) error {
	for attempt := 0; attempt < 2; attempt++ {
		acct, err := l.store.GetCreditAccount(ctx, userID)
		if err != nil {
			return err
		}
		ok, err := l.store.DebitBalance(ctx, userID, cost, acct.BalanceUSD)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fault.New(fault.Conflict, "concurrent balance update, debit not applied")
}

// Grant credits the account, creating it on first use.
func (l *Ledger) Grant(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fault.New(fault.InvalidInput, "grant amount must be positive")
	}
	if err := l.store.GrantCredit(ctx, userID, amount); err != nil {
		return err
	}
	l.log.Info().
		Str("user_id", userID).
		Str("amount_usd", amount.String()).
		Msg("credit granted")
	return nil
}

// Account returns the user's credit account.
func (l *Ledger) Account(ctx context.Context, userID string) (*database.CreditAccount, error) {
	return l.store.GetCreditAccount(ctx, userID)
}

// Summary returns per-service cost totals for one month (YYYY-MM), or all
// time when month is empty.
func (l *Ledger) Summary(ctx context.Context, userID, month string) ([]database.ServiceTotal, error) {
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			return nil, fault.Errorf(fault.InvalidInput, err, "month must be YYYY-MM")
		}
	}
	totals, err := l.store.UsageTotals(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	return totals, nil
}
