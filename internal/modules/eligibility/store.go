// README: Eligibility store backed by PostgreSQL.
package eligibility

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parkangel/internal/types"
)

// Store handles vip_assignments, discount_rules and eligibility_records.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) InsertAssignment(ctx context.Context, a VIPAssignment) error {
	spots := make([]string, len(a.AssignedSpots))
	for i, sp := range a.AssignedSpots {
		spots[i] = string(sp)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO vip_assignments (id, user_id, vip_type, assigned_spots, time_limit_hours, valid_from, valid_until, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(a.ID), string(a.UserID), string(a.Type), spots, a.TimeLimitHours,
		a.ValidFrom, a.ValidUntil, a.IsActive, a.CreatedAt,
	)
	return err
}

// SetAssignmentActive toggles an assignment; returns false when no row matched.
func (s *Store) SetAssignmentActive(ctx context.Context, id types.ID, active bool) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE vip_assignments SET is_active = $1 WHERE id = $2`, active, string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ActiveAssignments returns assignments for the user that are live at t.
func (s *Store) ActiveAssignments(ctx context.Context, userID types.ID, at time.Time) ([]VIPAssignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, vip_type, assigned_spots, time_limit_hours, valid_from, valid_until, is_active, created_at
		FROM vip_assignments
		WHERE user_id = $1 AND is_active AND valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)`,
		string(userID), at,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (VIPAssignment, error) {
		var a VIPAssignment
		var spots []string
		err := row.Scan(&a.ID, &a.UserID, &a.Type, &spots, &a.TimeLimitHours, &a.ValidFrom, &a.ValidUntil, &a.IsActive, &a.CreatedAt)
		for _, sp := range spots {
			a.AssignedSpots = append(a.AssignedSpots, types.ID(sp))
		}
		return a, err
	})
}

func (s *Store) InsertRule(ctx context.Context, r DiscountRule) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO discount_rules (id, name, operator_id, percentage_bp, vat_exempt, eligibility_kind, eligibility_tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		string(r.ID), r.Name, string(r.OperatorID), int64(r.Percentage), r.VATExempt,
		string(r.Eligibility.Kind), r.Eligibility.Tag, r.CreatedAt,
	)
	return err
}

func (s *Store) RulesForOperator(ctx context.Context, operatorID types.ID) ([]DiscountRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, operator_id, percentage_bp, vat_exempt, eligibility_kind, COALESCE(eligibility_tag, ''), created_at
		FROM discount_rules
		WHERE operator_id = $1
		ORDER BY id`, string(operatorID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DiscountRule, error) {
		var r DiscountRule
		var pct int64
		err := row.Scan(&r.ID, &r.Name, &r.OperatorID, &pct, &r.VATExempt, &r.Eligibility.Kind, &r.Eligibility.Tag, &r.CreatedAt)
		r.Percentage = types.BasisPoints(pct)
		return r, err
	})
}

// UpsertRecord stores a claim; verifying an existing claim flips verified in place.
func (s *Store) UpsertRecord(ctx context.Context, r Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO eligibility_records (user_id, kind, tag, verified, verified_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, kind, tag) DO UPDATE SET verified = EXCLUDED.verified, verified_at = EXCLUDED.verified_at`,
		string(r.UserID), string(r.Kind), r.Tag, r.Verified, r.VerifiedAt,
	)
	return err
}

func (s *Store) RecordsForUser(ctx context.Context, userID types.ID) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, kind, tag, verified, verified_at
		FROM eligibility_records
		WHERE user_id = $1`, string(userID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.UserID, &r.Kind, &r.Tag, &r.Verified, &r.VerifiedAt)
		return r, err
	})
}
