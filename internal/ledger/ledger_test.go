package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name     string
		op       Operation
		quantity string
		want     string
	}{
		{"transcribe two and a half minutes", OpTranscribe, "2.5", "0.015"},
		{"transcribe zero", OpTranscribe, "0", "0"},
		{"store five megabytes", OpStoreAudio, "0.005", "0.000115"},
		{"gigabyte held a month", OpStorageMonth, "1", "0.023"},
		{"million kv reads", OpKVRead, "1000000", "0.25"},
		{"single kv read rounds to zero", OpKVRead, "1", "0"},
		{"kv reads round half to even up", OpKVRead, "6", "0.000002"},
		{"kv reads round half to even down", OpKVRead, "2", "0"},
		{"thousand emails", OpSendEmail, "1000", "0.1"},
		{"key retrieval", OpKeyRetrieve, "1", "0.05"},
		{"secret held a month", OpKeyStore, "1", "0.4"},
		{"llm input tokens", OpLLMInput, "1500", "0.0045"},
		{"llm output tokens", OpLLMOutput, "800", "0.0048"},
		{"unknown operation", Operation("nonsense"), "42", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.op, decimal.RequireFromString(tt.quantity))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Cost(%s, %s) = %s, want %s", tt.op, tt.quantity, got, tt.want)
			}
		})
	}
}

type fakeStore struct {
	account    *database.CreditAccount
	records    []*database.UsageRecord
	debitFails int // number of CAS misses to simulate before succeeding
	debits     int
}

func (f *fakeStore) GetCreditAccount(_ context.Context, userID string) (*database.CreditAccount, error) {
	if f.account == nil || f.account.UserID != userID {
		return nil, fault.New(fault.NotFound, "credit account not found")
	}
	cp := *f.account
	return &cp, nil
}

func (f *fakeStore) DebitBalance(_ context.Context, _ string, cost, expected decimal.Decimal) (bool, error) {
	f.debits++
	if f.debitFails > 0 {
		f.debitFails--
		return false, nil
	}
	if !f.account.BalanceUSD.Equal(expected) {
		return false, nil
	}
	f.account.BalanceUSD = f.account.BalanceUSD.Sub(cost)
	f.account.UsedTotal = f.account.UsedTotal.Add(cost)
	return true, nil
}

func (f *fakeStore) GrantCredit(_ context.Context, userID string, amount decimal.Decimal) error {
	if f.account == nil {
		f.account = &database.CreditAccount{UserID: userID}
	}
	f.account.BalanceUSD = f.account.BalanceUSD.Add(amount)
	f.account.GrantedTotal = f.account.GrantedTotal.Add(amount)
	return nil
}

func (f *fakeStore) InsertUsageRecord(_ context.Context, r *database.UsageRecord) error {
	f.records = append(f.records, r)
	return nil
}

func (f *fakeStore) UsageTotals(_ context.Context, _, _ string) ([]database.ServiceTotal, error) {
	return []database.ServiceTotal{}, nil
}

func newAccount(balance string) *database.CreditAccount {
	b := decimal.RequireFromString(balance)
	return &database.CreditAccount{
		UserID:       "u1",
		BalanceUSD:   b,
		GrantedTotal: b,
		UpdatedAt:    time.Now().UTC(),
	}
}

func TestHasCredit(t *testing.T) {
	l := New(&fakeStore{account: newAccount("0.50")}, zerolog.Nop())
	ok, err := l.HasCredit(context.Background(), "u1")
	if err != nil || !ok {
		t.Errorf("HasCredit = %v, %v, want true", ok, err)
	}

	l = New(&fakeStore{account: newAccount("0")}, zerolog.Nop())
	ok, err = l.HasCredit(context.Background(), "u1")
	if err != nil || ok {
		t.Errorf("zero balance: HasCredit = %v, %v, want false", ok, err)
	}

	l = New(&fakeStore{}, zerolog.Nop())
	ok, err = l.HasCredit(context.Background(), "nobody")
	if err != nil || ok {
		t.Errorf("missing account: HasCredit = %v, %v, want false nil", ok, err)
	}
}

func TestChargeDebitsAndRecords(t *testing.T) {
	store := &fakeStore{account: newAccount("1.00")}
	l := New(store, zerolog.Nop())

	cost, err := l.Charge(context.Background(), "u1", OpTranscribe, decimal.RequireFromString("10"))
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if want := decimal.RequireFromString("0.06"); !cost.Equal(want) {
		t.Errorf("cost = %s, want %s", cost, want)
	}
	if want := decimal.RequireFromString("0.94"); !store.account.BalanceUSD.Equal(want) {
		t.Errorf("balance = %s, want %s", store.account.BalanceUSD, want)
	}
	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	rec := store.records[0]
	if rec.Service != ServiceSpeech || rec.Operation != string(OpTranscribe) || rec.Unit != "minute" {
		t.Errorf("record = %s/%s/%s", rec.Service, rec.Operation, rec.Unit)
	}
	if rec.Month != time.Now().UTC().Format("2006-01") {
		t.Errorf("month = %q", rec.Month)
	}
}

func TestChargeCanGoNegative(t *testing.T) {
	store := &fakeStore{account: newAccount("0.01")}
	l := New(store, zerolog.Nop())

	if _, err := l.Charge(context.Background(), "u1", OpKeyRetrieve, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if want := decimal.RequireFromString("-0.04"); !store.account.BalanceUSD.Equal(want) {
		t.Errorf("balance = %s, want %s", store.account.BalanceUSD, want)
	}
}

func TestChargeZeroCostSkipsDebit(t *testing.T) {
	store := &fakeStore{account: newAccount("1.00")}
	l := New(store, zerolog.Nop())

	if _, err := l.Charge(context.Background(), "u1", OpKVRead, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if store.debits != 0 {
		t.Errorf("debits = %d, want 0", store.debits)
	}
	if len(store.records) != 1 {
		t.Errorf("records = %d, want 1 (zero-cost usage still recorded)", len(store.records))
	}
}

func TestChargeRetriesLostRace(t *testing.T) {
	store := &fakeStore{account: newAccount("1.00"), debitFails: 1}
	l := New(store, zerolog.Nop())

	if _, err := l.Charge(context.Background(), "u1", OpSendEmail, decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("Charge after one lost race: %v", err)
	}
	if store.debits != 2 {
		t.Errorf("debits = %d, want 2", store.debits)
	}

	store = &fakeStore{account: newAccount("1.00"), debitFails: 2}
	l = New(store, zerolog.Nop())
	_, err := l.Charge(context.Background(), "u1", OpSendEmail, decimal.NewFromInt(1000))
	if !fault.Is(err, fault.Conflict) {
		t.Errorf("two lost races: err = %v, want Conflict", err)
	}
}

func TestGrant(t *testing.T) {
	store := &fakeStore{}
	l := New(store, zerolog.Nop())

	if err := l.Grant(context.Background(), "u1", decimal.RequireFromString("5.00")); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !store.account.BalanceUSD.Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("balance = %s", store.account.BalanceUSD)
	}

	err := l.Grant(context.Background(), "u1", decimal.Zero)
	if !fault.Is(err, fault.InvalidInput) {
		t.Errorf("zero grant: err = %v, want InvalidInput", err)
	}
}

func TestSummaryValidatesMonth(t *testing.T) {
	l := New(&fakeStore{}, zerolog.Nop())
	if _, err := l.Summary(context.Background(), "u1", "2026/08"); !fault.Is(err, fault.InvalidInput) {
		t.Errorf("bad month: err = %v, want InvalidInput", err)
	}
	if _, err := l.Summary(context.Background(), "u1", "2026-08"); err != nil {
		t.Errorf("good month: err = %v", err)
	}
	if _, err := l.Summary(context.Background(), "u1", ""); err != nil {
		t.Errorf("empty month: err = %v", err)
	}
}

// Ledger bookkeeping identity: granted + refunded - balance == sum of costs.
func TestLedgerIdentity(t *testing.T) {
	store := &fakeStore{}
	l := New(store, zerolog.Nop())
	ctx := context.Background()

	if err := l.Grant(ctx, "u1", decimal.RequireFromString("2.00")); err != nil {
		t.Fatal(err)
	}

	var total decimal.Decimal
	charges := []struct {
		op  Operation
		qty string
	}{
		{OpTranscribe, "12.5"},
		{OpStoreAudio, "0.0042"},
		{OpKeyRetrieve, "1"},
		{OpLLMInput, "2300"},
		{OpLLMOutput, "410"},
		{OpSendEmail, "1"},
	}
	for _, c := range charges {
		cost, err := l.Charge(ctx, "u1", c.op, decimal.RequireFromString(c.qty))
		if err != nil {
			t.Fatalf("Charge %s: %v", c.op, err)
		}
		total = total.Add(cost)
	}

	acct := store.account
	lhs := acct.GrantedTotal.Add(acct.RefundedTotal).Sub(acct.BalanceUSD)
	if !lhs.Equal(total) {
		t.Errorf("granted+refunded-balance = %s, sum of costs = %s", lhs, total)
	}
	if !acct.UsedTotal.Equal(total) {
		t.Errorf("used_total = %s, want %s", acct.UsedTotal, total)
	}
}
