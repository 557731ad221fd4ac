// README: Remittance store backed by PostgreSQL; share claims and status changes are compare-and-set.
package remittance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"parkangel/internal/types"
)

// errNothingClaimed rolls back a claim transaction that found no free shares.
var errNothingClaimed = errors.New("nothing claimed")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const remittanceColumns = `
	id, recipient_id, period_start, period_end, seq, total_share, previously_reserved, payable,
	currency, status, status_version, attempts, COALESCE(transfer_id, ''), COALESCE(last_error, ''),
	created_at, updated_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*Remittance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+remittanceColumns+` FROM remittances WHERE id = $1`, string(id))
	return scanRemittance(row)
}

// Latest returns the highest sequence for the recipient and period.
func (s *Store) Latest(ctx context.Context, recipientID types.ID, p Period) (*Remittance, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+remittanceColumns+` FROM remittances
		WHERE recipient_id = $1 AND period_start = $2 AND period_end = $3
		ORDER BY seq DESC
		LIMIT 1`, string(recipientID), p.Start, p.End)
	return scanRemittance(row)
}

// Claim inserts r as pending and attaches every unclaimed share of the
// recipient in the period to it, filling in the amounts. It reports false and
// writes nothing when there was no share to claim.
func (s *Store) Claim(ctx context.Context, r *Remittance) (bool, error) {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(r.RecipientID)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO remittances (
				id, recipient_id, period_start, period_end, seq, total_share, previously_reserved, payable,
				currency, status, status_version, attempts, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $7, 0, 0, $8, $8)`,
			string(r.ID), string(r.RecipientID), r.PeriodStart, r.PeriodEnd, r.Sequence,
			r.Currency, string(StatusPending), r.CreatedAt,
		); err != nil {
			return err
		}

		var claimed int
		err := tx.QueryRow(ctx, `
			WITH claimed AS (
				UPDATE revenue_shares SET remittance_id = $1
				WHERE recipient_id = $2 AND created_at >= $3 AND created_at < $4 AND remittance_id IS NULL
				RETURNING amount
			)
			SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM claimed`,
			string(r.ID), string(r.RecipientID), r.PeriodStart, r.PeriodEnd,
		).Scan(&claimed, &r.Payable)
		if err != nil {
			return err
		}
		if claimed == 0 {
			return errNothingClaimed
		}

		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(amount), 0) FROM revenue_shares
			WHERE recipient_id = $1 AND created_at >= $2 AND created_at < $3`,
			string(r.RecipientID), r.PeriodStart, r.PeriodEnd,
		).Scan(&r.TotalShare); err != nil {
			return err
		}
		r.PreviouslyReserved = r.TotalShare - r.Payable

		_, err = tx.Exec(ctx, `
			UPDATE remittances SET total_share = $2, previously_reserved = $3, payable = $4
			WHERE id = $1`, string(r.ID), r.TotalShare, r.PreviouslyReserved, r.Payable)
		return err
	})
	if errors.Is(err, errNothingClaimed) {
		return false, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, ErrConflict
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StatusPatch carries the columns that change together with a status.
type StatusPatch struct {
	TransferID  string
	LastError   string
	IncAttempts bool
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch StatusPatch, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE remittances
		SET status = $1,
			status_version = status_version + 1,
			transfer_id = COALESCE(NULLIF($2, ''), transfer_id),
			last_error = CASE WHEN $1 = 'completed' THEN NULL ELSE COALESCE(NULLIF($3, ''), last_error) END,
			attempts = attempts + CASE WHEN $4 THEN 1 ELSE 0 END,
			updated_at = $5
		WHERE id = $6 AND status = $7 AND status_version = $8`,
		string(to), patch.TransferID, patch.LastError, patch.IncAttempts, at,
		string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release moves an escalated remittance to released and returns its shares to the pool.
func (s *Store) Release(ctx context.Context, id types.ID, version int, at time.Time) (bool, error) {
	released := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE remittances SET status = $1, status_version = status_version + 1, updated_at = $2
			WHERE id = $3 AND status = $4 AND status_version = $5`,
			string(StatusReleased), at, string(id), string(StatusEscalated), version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE revenue_shares SET remittance_id = NULL WHERE remittance_id = $1`, string(id)); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (s *Store) ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Remittance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+remittanceColumns+` FROM remittances
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, string(status), updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Remittance, error) {
		r, err := scanRemittance(row)
		if err != nil {
			return Remittance{}, err
		}
		return *r, nil
	})
}

// RecipientsWithUnclaimed lists recipients holding unclaimed shares in the period.
func (s *Store) RecipientsWithUnclaimed(ctx context.Context, p Period) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT recipient_id FROM revenue_shares
		WHERE remittance_id IS NULL AND created_at >= $1 AND created_at < $2
		ORDER BY recipient_id`, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ID, error) {
		var id string
		err := row.Scan(&id)
		return types.ID(id), err
	})
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO remittance_events (remittance_id, from_status, to_status, actor_type, note, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		string(e.RemittanceID), string(e.FromStatus), string(e.ToStatus), e.ActorType, e.Note, e.CreatedAt,
	)
	return err
}

func (s *Store) PutPayoutAccount(ctx context.Context, recipientID types.ID, account string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payout_accounts (recipient_id, stripe_account, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (recipient_id) DO UPDATE SET stripe_account = EXCLUDED.stripe_account, updated_at = EXCLUDED.updated_at`,
		string(recipientID), account, at)
	return err
}

func (s *Store) PayoutAccount(ctx context.Context, recipientID types.ID) (string, error) {
	var account string
	err := s.db.QueryRow(ctx, `SELECT stripe_account FROM payout_accounts WHERE recipient_id = $1`, string(recipientID)).Scan(&account)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoPayoutAccount
	}
	return account, err
}

func scanRemittance(row pgx.Row) (*Remittance, error) {
	var (
		r               Remittance
		id, recipientID string
		status          string
	)
	err := row.Scan(
		&id, &recipientID, &r.PeriodStart, &r.PeriodEnd, &r.Sequence, &r.TotalShare, &r.PreviouslyReserved, &r.Payable,
		&r.Currency, &status, &r.StatusVersion, &r.Attempts, &r.TransferID, &r.LastError,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ID = types.ID(id)
	r.RecipientID = types.ID(recipientID)
	r.Status = Status(status)
	return &r, nil
}
