// README: Revenue share config store backed by PostgreSQL.
package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) PutConfig(ctx context.Context, cfg ShareConfig) error {
	raw, err := json.Marshal(cfg.Splits)
	if err != nil {
		return fmt.Errorf("encode splits: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO revenue_share_configs (config_key, parking_type, splits, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (config_key, parking_type) DO UPDATE SET splits = EXCLUDED.splits, updated_at = EXCLUDED.updated_at`,
		cfg.Key, string(cfg.ParkingType), raw, cfg.UpdatedAt,
	)
	return err
}

func (s *Store) GetConfig(ctx context.Context, key string, parkingType hierarchy.ParkingType) (*ShareConfig, error) {
	var raw []byte
	cfg := ShareConfig{Key: key, ParkingType: parkingType}
	err := s.db.QueryRow(ctx, `
		SELECT splits, updated_at FROM revenue_share_configs
		WHERE config_key = $1 AND parking_type = $2`, key, string(parkingType),
	).Scan(&raw, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &cfg.Splits); err != nil {
		return nil, fmt.Errorf("decode splits for %s/%s: %w", key, parkingType, err)
	}
	return &cfg, nil
}

// InsertShares writes share rows inside the caller's transaction so a charge
// and its shares commit together. Each row keeps its index in shares.
func InsertShares(ctx context.Context, tx pgx.Tx, shares []Share) error {
	if len(shares) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, sh := range shares {
		batch.Queue(`
			INSERT INTO revenue_shares (id, charge_record_id, recipient_id, role, amount, currency, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			string(sh.ID), string(sh.ChargeRecordID), string(sh.RecipientID), string(sh.Role), sh.Amount, sh.Currency, i, sh.CreatedAt,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range shares {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert share: %w", err)
		}
	}
	return br.Close()
}

func (s *Store) SharesForCharge(ctx context.Context, chargeID types.ID) ([]Share, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+shareColumns+` FROM revenue_shares
		WHERE charge_record_id = $1
		ORDER BY position`, string(chargeID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanShare)
}

const shareColumns = `id, charge_record_id, recipient_id, role, amount, currency, remittance_id, position, created_at`

// scanShare reads one revenue_shares row selected with shareColumns.
func scanShare(row pgx.CollectableRow) (Share, error) {
	var (
		sh           Share
		id, chargeID string
		recipientID  string
		role         string
		remittanceID *string
	)
	if err := row.Scan(&id, &chargeID, &recipientID, &role, &sh.Amount, &sh.Currency, &remittanceID, &sh.Position, &sh.CreatedAt); err != nil {
		return Share{}, err
	}
	sh.ID = types.ID(id)
	sh.ChargeRecordID = types.ID(chargeID)
	sh.RecipientID = types.ID(recipientID)
	sh.Role = Role(role)
	if remittanceID != nil {
		rid := types.ID(*remittanceID)
		sh.RemittanceID = &rid
	}
	return sh, nil
}
