package revenue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/testutil"
)

func TestStoreSharesForChargeKeepsSplitOrder(t *testing.T) {
	db := testutil.Pool(t, "revenue_shares", "charge_records", "revenue_share_configs")
	store := NewStore(db)
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	if _, err := db.Exec(ctx, `
		INSERT INTO charge_records (
			id, booking_id, event_type, spot_id, session_start, session_end, snapshot, line_items,
			subtotal, discounted_amount, vat_rate, vat_amount, total_amount, currency, created_at
		) VALUES ('ch-1', 'bk-1', 'checkout', 'spot-1', $1, $1, '{}', '[]', 0, 0, 0, 0, 10000, 'PHP', $1)`,
		at); err != nil {
		t.Fatalf("seed charge: %v", err)
	}

	// Ids sort opposite to the split order.
	shares := []Share{
		{ID: "sh-z", ChargeRecordID: "ch-1", RecipientID: "op-1", Role: RoleOperator, Amount: 4000, Currency: "PHP", CreatedAt: at},
		{ID: "sh-m", ChargeRecordID: "ch-1", RecipientID: "host-1", Role: RoleHost, Amount: 3000, Currency: "PHP", CreatedAt: at},
		{ID: "sh-a", ChargeRecordID: "ch-1", RecipientID: "park-angel", Role: RolePlatform, Amount: 3000, Currency: "PHP", CreatedAt: at},
	}
	if err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		return InsertShares(ctx, tx, shares)
	}); err != nil {
		t.Fatalf("insert shares: %v", err)
	}

	got, err := store.SharesForCharge(ctx, "ch-1")
	if err != nil {
		t.Fatalf("SharesForCharge: %v", err)
	}
	if len(got) != len(shares) {
		t.Fatalf("got %d shares, want %d", len(got), len(shares))
	}
	for i := range shares {
		if got[i].ID != shares[i].ID || got[i].Position != i {
			t.Errorf("share %d = %s at position %d, want %s", i, got[i].ID, got[i].Position, shares[i].ID)
		}
	}
	if got[len(got)-1].Role != RolePlatform {
		t.Errorf("last share role = %s, want platform", got[len(got)-1].Role)
	}
}

func TestStoreConfigRoundTrip(t *testing.T) {
	db := testutil.Pool(t, "revenue_share_configs")
	store := NewStore(db)
	ctx := context.Background()

	if _, err := store.GetConfig(ctx, "op-1", hierarchy.ParkingStreet); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
	cfg := ShareConfig{
		Key:         "op-1",
		ParkingType: hierarchy.ParkingStreet,
		Splits:      []Split{{Role: RoleOperator, Percentage: 7000}, {Role: RolePlatform, Percentage: 3000}},
		UpdatedAt:   time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	if err := store.PutConfig(ctx, cfg); err != nil {
		t.Fatalf("PutConfig: %v", err)
	}
	got, err := store.GetConfig(ctx, "op-1", hierarchy.ParkingStreet)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if len(got.Splits) != 2 || got.Splits[0].Role != RoleOperator || got.Splits[1].Percentage != 3000 {
		t.Fatalf("unexpected config %+v", got)
	}
}
