package remittance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parkangel/internal/testutil"
	"parkangel/internal/types"
)

func setupTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	db := testutil.Pool(t, "remittance_events", "revenue_shares", "remittances", "charge_records", "payout_accounts")
	return NewStore(db), db
}

func seedShare(t *testing.T, db *pgxpool.Pool, id, recipient string, amount int64, at time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.Exec(ctx, `
		INSERT INTO charge_records (
			id, booking_id, event_type, spot_id, session_start, session_end, snapshot, line_items,
			subtotal, discounted_amount, vat_rate, vat_amount, total_amount, currency, created_at
		) VALUES ($1, $1, 'checkout', 'spot-1', $2, $2, '{}', '[]', 0, 0, 0, 0, 0, 'PHP', $2)`,
		"ch-"+id, at); err != nil {
		t.Fatalf("seed charge: %v", err)
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO revenue_shares (id, charge_record_id, recipient_id, role, amount, currency, created_at)
		VALUES ($1, $2, $3, 'operator', $4, 'PHP', $5)`,
		id, "ch-"+id, recipient, amount, at); err != nil {
		t.Fatalf("seed share: %v", err)
	}
}

func newPending(recipient types.ID, p Period, seq int) *Remittance {
	return &Remittance{
		ID:          types.ID(fmt.Sprintf("%s-rem-%d", recipient, seq)),
		RecipientID: recipient,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		Sequence:    seq,
		Currency:    "PHP",
		Status:      StatusPending,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
}

func TestStoreClaimAndRelease(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	p := testPeriod()
	seedShare(t, db, "s1", "op-1", 5000, time.Date(2024, 3, 5, 10, 0, 0, 0, manila))
	seedShare(t, db, "s2", "op-1", -500, time.Date(2024, 3, 6, 10, 0, 0, 0, manila))
	seedShare(t, db, "s3", "op-1", 900, time.Date(2024, 3, 11, 0, 0, 0, 0, manila))

	due, err := store.RecipientsWithUnclaimed(ctx, p)
	if err != nil || len(due) != 1 || due[0] != "op-1" {
		t.Fatalf("recipients due: %v %v", due, err)
	}

	r := newPending("op-1", p, 1)
	ok, err := store.Claim(ctx, r)
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if r.Payable != 4500 || r.TotalShare != 4500 || r.PreviouslyReserved != 0 {
		t.Fatalf("payable=%d total=%d reserved=%d", r.Payable, r.TotalShare, r.PreviouslyReserved)
	}

	if _, err := store.Claim(ctx, newPending("op-1", p, 1)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate sequence, got %v", err)
	}
	ok, err = store.Claim(ctx, newPending("op-1", p, 2))
	if err != nil || ok {
		t.Fatalf("expected nothing to claim, got %v %v", ok, err)
	}
	if _, err := store.Get(ctx, newPending("op-1", p, 2).ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty claim must not leave a row, got %v", err)
	}

	latest, err := store.Latest(ctx, "op-1", p)
	if err != nil || latest.ID != r.ID || latest.Status != StatusPending {
		t.Fatalf("latest: %+v %v", latest, err)
	}

	ok, err = store.UpdateStatus(ctx, r.ID, StatusPending, StatusEscalated, 1, StatusPatch{}, fixedNow)
	if err != nil || ok {
		t.Fatalf("stale version must not update: %v %v", ok, err)
	}
	ok, err = store.UpdateStatus(ctx, r.ID, StatusPending, StatusEscalated, 0, StatusPatch{LastError: "manual"}, fixedNow)
	if err != nil || !ok {
		t.Fatalf("update status: %v %v", ok, err)
	}

	released, err := store.Release(ctx, r.ID, 1, fixedNow)
	if err != nil || !released {
		t.Fatalf("release: %v %v", released, err)
	}
	due, err = store.RecipientsWithUnclaimed(ctx, p)
	if err != nil || len(due) != 1 {
		t.Fatalf("released shares should be unclaimed again: %v %v", due, err)
	}

	if err := store.AppendEvent(ctx, &Event{RemittanceID: r.ID, FromStatus: StatusEscalated, ToStatus: StatusReleased, ActorType: "admin", CreatedAt: fixedNow}); err != nil {
		t.Fatalf("append event: %v", err)
	}
}

func TestStoreListByStatus(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	p := testPeriod()
	seedShare(t, db, "s1", "op-1", 5000, time.Date(2024, 3, 5, 10, 0, 0, 0, manila))

	r := newPending("op-1", p, 1)
	if ok, err := store.Claim(ctx, r); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	ok, err := store.UpdateStatus(ctx, r.ID, StatusPending, StatusProcessing, 0, StatusPatch{IncAttempts: true}, fixedNow)
	if err != nil || !ok {
		t.Fatalf("update: %v %v", ok, err)
	}

	rows, err := store.ListByStatus(ctx, StatusProcessing, fixedNow.Add(time.Minute), 10)
	if err != nil || len(rows) != 1 || rows[0].Attempts != 1 {
		t.Fatalf("list: %+v %v", rows, err)
	}
	rows, err = store.ListByStatus(ctx, StatusProcessing, fixedNow, 10)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows updated before now, got %d %v", len(rows), err)
	}
}

func TestStorePayoutAccount(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.PayoutAccount(ctx, "op-1"); !errors.Is(err, ErrNoPayoutAccount) {
		t.Fatalf("expected ErrNoPayoutAccount, got %v", err)
	}
	if err := store.PutPayoutAccount(ctx, "op-1", "acct_a", fixedNow); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutPayoutAccount(ctx, "op-1", "acct_b", fixedNow); err != nil {
		t.Fatalf("put again: %v", err)
	}
	acct, err := store.PayoutAccount(ctx, "op-1")
	if err != nil || acct != "acct_b" {
		t.Fatalf("got %q %v", acct, err)
	}
}
