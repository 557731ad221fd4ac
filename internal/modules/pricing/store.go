// README: Charge ledger backed by PostgreSQL. Rows are inserted once and never updated.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/modules/revenue"
	"parkangel/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Append inserts the charge and its shares in one transaction. A second
// record for the same (booking, event) returns ErrDuplicateCharge and writes nothing.
func (s *Store) Append(ctx context.Context, rec *ChargeRecord, shares []revenue.Share) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	vip, err := marshalOptional(rec.VIP)
	if err != nil {
		return err
	}
	discount, err := marshalOptional(rec.Discount)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO charge_records (
				id, booking_id, event_type, spot_id, user_id, operator_id, host_id, parking_type, vehicle_type,
				session_start, session_end, snapshot, line_items, vip, subtotal, discount, discounted_amount,
				vat_rate, vat_exempt, vat_amount, total_amount, currency, compensates_id, note, review_reason, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9,
				$10, $11, $12, $13, $14, $15, $16, $17,
				$18, $19, $20, $21, $22, $23, NULLIF($24, ''), NULLIF($25, ''), $26
			)
			ON CONFLICT (booking_id, event_type) DO NOTHING`,
			string(rec.ID), string(rec.BookingID), rec.EventType, string(rec.SpotID), string(rec.UserID),
			string(rec.OperatorID), string(rec.HostID), string(rec.ParkingType), rec.VehicleType,
			rec.SessionStart, rec.SessionEnd, snapshot, items, vip, rec.Subtotal, discount, rec.DiscountedAmount,
			int64(rec.VATRate), rec.VATExempt, rec.VATAmount, rec.TotalAmount, rec.Currency,
			idPtr(rec.CompensatesID), rec.Note, rec.ReviewReason, rec.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicateCharge
		}
		return revenue.InsertShares(ctx, tx, shares)
	})
}

const chargeColumns = `
	id, booking_id, event_type, spot_id, user_id, operator_id, COALESCE(host_id, ''), parking_type, vehicle_type,
	session_start, session_end, snapshot, line_items, vip, subtotal, discount, discounted_amount,
	vat_rate, vat_exempt, vat_amount, total_amount, currency, compensates_id, COALESCE(note, ''), COALESCE(review_reason, ''), created_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*ChargeRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+chargeColumns+` FROM charge_records WHERE id = $1`, string(id))
	return scanCharge(row)
}

func (s *Store) GetByBooking(ctx context.Context, bookingID types.ID, eventType string) (*ChargeRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+chargeColumns+` FROM charge_records
		WHERE booking_id = $1 AND event_type = $2`, string(bookingID), eventType)
	return scanCharge(row)
}

func scanCharge(row pgx.Row) (*ChargeRecord, error) {
	var (
		rec                             ChargeRecord
		id, bookingID, spotID, userID   string
		operatorID, hostID, parkingType string
		snapshot, items, vip, discount  []byte
		vatRate                         int64
		compensatesID                   *string
	)
	err := row.Scan(
		&id, &bookingID, &rec.EventType, &spotID, &userID, &operatorID, &hostID, &parkingType, &rec.VehicleType,
		&rec.SessionStart, &rec.SessionEnd, &snapshot, &items, &vip, &rec.Subtotal, &discount, &rec.DiscountedAmount,
		&vatRate, &rec.VATExempt, &rec.VATAmount, &rec.TotalAmount, &rec.Currency, &compensatesID, &rec.Note, &rec.ReviewReason, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.ID = types.ID(id)
	rec.BookingID = types.ID(bookingID)
	rec.SpotID = types.ID(spotID)
	rec.UserID = types.ID(userID)
	rec.OperatorID = types.ID(operatorID)
	rec.HostID = types.ID(hostID)
	rec.ParkingType = hierarchy.ParkingType(parkingType)
	rec.VATRate = types.BasisPoints(vatRate)
	if compensatesID != nil {
		cid := types.ID(*compensatesID)
		rec.CompensatesID = &cid
	}
	if err := json.Unmarshal(snapshot, &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", id, err)
	}
	if err := json.Unmarshal(items, &rec.Items); err != nil {
		return nil, fmt.Errorf("decode line items of %s: %w", id, err)
	}
	if len(vip) > 0 {
		rec.VIP = &VIPApplied{}
		if err := json.Unmarshal(vip, rec.VIP); err != nil {
			return nil, fmt.Errorf("decode vip of %s: %w", id, err)
		}
	}
	if len(discount) > 0 {
		rec.Discount = &DiscountApplied{}
		if err := json.Unmarshal(discount, rec.Discount); err != nil {
			return nil, fmt.Errorf("decode discount of %s: %w", id, err)
		}
	}
	return &rec, nil
}

// marshalOptional encodes nil as SQL NULL.
func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func idPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}
