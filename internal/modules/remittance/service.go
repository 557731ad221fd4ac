// README: Remittance service; aggregates shares per recipient and period, pays them out and settles uncertain transfers.
package remittance

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parkangel/internal/types"
)

type Repository interface {
	Get(ctx context.Context, id types.ID) (*Remittance, error)
	Latest(ctx context.Context, recipientID types.ID, p Period) (*Remittance, error)
	Claim(ctx context.Context, r *Remittance) (bool, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch StatusPatch, at time.Time) (bool, error)
	Release(ctx context.Context, id types.ID, version int, at time.Time) (bool, error)
	ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Remittance, error)
	RecipientsWithUnclaimed(ctx context.Context, p Period) ([]types.ID, error)
	AppendEvent(ctx context.Context, e *Event) error
	PutPayoutAccount(ctx context.Context, recipientID types.ID, account string, at time.Time) error
	PayoutAccount(ctx context.Context, recipientID types.ID) (string, error)
}

type Locker interface {
	Lock(ctx context.Context, recipientID types.ID) (func(), error)
}

type Options struct {
	Currency        string
	TransferTimeout time.Duration
	// MaxAttempts is the transfer budget before a failed remittance escalates.
	MaxAttempts int
	BatchSize   int
	// AbandonAfter is how long a processing remittance may show no transfer in
	// its group before Reconcile fails it. It must outlast the gateway's
	// idempotency window so a failed attempt can never execute later.
	AbandonAfter time.Duration
}

type Service struct {
	repo    Repository
	gateway Gateway
	locker  Locker
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

// NewService wires the aggregator. locker may be nil when callers already
// serialize work per recipient.
func NewService(repo Repository, gateway Gateway, locker Locker, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = 26 * time.Hour
	}
	return &Service{repo: repo, gateway: gateway, locker: locker, logger: logger, opts: opts, now: time.Now}
}

// ReconcileResult counts what one reconcile pass did.
type ReconcileResult struct {
	Checked   int
	Completed int
	Failed    int
	Unknown   int
	Abandoned int
}

type RetryResult struct {
	Requeued  int
	Escalated int
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Remittance, error) {
	return s.repo.Get(ctx, id)
}

// Run aggregates the recipient's unclaimed shares for the period into a
// pending remittance. An open remittance for the period is returned as is, and
// a completed one is returned when no new share has arrived since.
func (s *Service) Run(ctx context.Context, recipientID types.ID, p Period) (*Remittance, error) {
	if recipientID == "" || !p.End.After(p.Start) {
		return nil, ErrBadRequest
	}
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, recipientID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	for attempt := 0; attempt < 2; attempt++ {
		latest, err := s.repo.Latest(ctx, recipientID, p)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if latest != nil && latest.Open() {
			return latest, nil
		}
		seq := 1
		if latest != nil {
			seq = latest.Sequence + 1
		}

		now := s.now()
		r := &Remittance{
			ID:          types.ID(uuid.NewString()),
			RecipientID: recipientID,
			PeriodStart: p.Start,
			PeriodEnd:   p.End,
			Sequence:    seq,
			Currency:    s.opts.Currency,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		ok, err := s.repo.Claim(ctx, r)
		if errors.Is(err, ErrConflict) {
			// Another runner created this sequence first; read it back.
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			if latest != nil {
				return latest, nil
			}
			return nil, ErrNothingToRemit
		}

		_ = s.repo.AppendEvent(ctx, &Event{
			RemittanceID: r.ID,
			FromStatus:   StatusNone,
			ToStatus:     StatusPending,
			ActorType:    "system",
			CreatedAt:    now,
		})
		s.logger.Info("remittance created",
			zap.String("remittance_id", string(r.ID)),
			zap.String("recipient_id", string(recipientID)),
			zap.Stringer("period", p),
			zap.Int("sequence", r.Sequence),
			zap.Int64("payable", r.Payable),
			zap.Int64("previously_reserved", r.PreviouslyReserved),
		)
		return r, nil
	}
	return nil, ErrConflict
}

// Process sends the transfer for a pending remittance. A gateway rejection
// moves it to failed and returns a *TransferError. When the outcome is not
// known in time the remittance stays processing for Reconcile.
func (s *Service) Process(ctx context.Context, id types.ID) (*Remittance, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return r, ErrInvalidState
	}
	if r.Payable < 0 {
		if err := s.transition(ctx, r, StatusEscalated, StatusPatch{LastError: "negative payable"}, "system", "negative payable"); err != nil {
			return nil, err
		}
		return r, nil
	}

	var account string
	if r.Payable > 0 {
		account, err = s.repo.PayoutAccount(ctx, r.RecipientID)
		if err != nil {
			return r, err
		}
	}

	if err := s.transition(ctx, r, StatusProcessing, StatusPatch{IncAttempts: true}, "system", ""); err != nil {
		return nil, err
	}
	if r.Payable == 0 {
		if err := s.transition(ctx, r, StatusCompleted, StatusPatch{}, "system", "nothing payable"); err != nil {
			return nil, err
		}
		return r, nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.TransferTimeout)
	transferID, err := s.gateway.Transfer(tctx, TransferRequest{
		IdempotencyKey: transferKey(r),
		TransferGroup:  string(r.ID),
		RecipientID:    r.RecipientID,
		Destination:    account,
		Amount:         r.Payable,
		Currency:       r.Currency,
	})
	timedOut := tctx.Err() != nil
	cancel()

	// The transfer already happened or was refused; record it even if the caller gave up.
	ctx = context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if err := s.transition(ctx, r, StatusCompleted, StatusPatch{TransferID: transferID}, "gateway", ""); err != nil {
			return nil, err
		}
		return r, nil
	case timedOut || errors.Is(err, ErrTransferUncertain):
		s.logger.Warn("transfer outcome unknown; left for reconcile",
			zap.String("remittance_id", string(r.ID)),
			zap.String("recipient_id", string(r.RecipientID)),
			zap.Error(err),
		)
		return r, nil
	default:
		terr := &TransferError{RemittanceID: r.ID, Reason: err.Error()}
		if err := s.transition(ctx, r, StatusFailed, StatusPatch{LastError: terr.Reason}, "gateway", ""); err != nil {
			return nil, err
		}
		return r, terr
	}
}

// Reconcile settles processing remittances older than olderThan by asking
// the gateway what happened to their transfer. Nothing is re-sent. A row whose
// group still shows no transfer after AbandonAfter is failed so RetryFailed
// can send a fresh attempt or escalate it.
func (s *Service) Reconcile(ctx context.Context, olderThan time.Duration) (ReconcileResult, error) {
	var out ReconcileResult
	rows, err := s.repo.ListByStatus(ctx, StatusProcessing, s.now().Add(-olderThan), s.opts.BatchSize)
	if err != nil {
		return out, err
	}
	var errs []error
	for i := range rows {
		r := &rows[i]
		out.Checked++
		res, err := s.gateway.Lookup(ctx, string(r.ID))
		if err != nil {
			s.logger.Warn("transfer lookup failed", zap.String("remittance_id", string(r.ID)), zap.Error(err))
			out.Unknown++
			continue
		}
		switch res.State {
		case TransferConfirmed:
			err = s.transition(ctx, r, StatusCompleted, StatusPatch{TransferID: res.TransferID}, "reconcile", "")
			if err == nil {
				out.Completed++
			}
		case TransferRejected:
			err = s.transition(ctx, r, StatusFailed, StatusPatch{TransferID: res.TransferID, LastError: res.Reason}, "reconcile", "")
			if err == nil {
				out.Failed++
			}
		default:
			age := s.now().Sub(r.UpdatedAt)
			if age < s.opts.AbandonAfter {
				out.Unknown++
				break
			}
			err = s.transition(ctx, r, StatusFailed, StatusPatch{LastError: "no transfer recorded by gateway"}, "reconcile", "abandoned")
			if err == nil {
				out.Abandoned++
				s.logger.Warn("uncertain transfer abandoned",
					zap.String("remittance_id", string(r.ID)),
					zap.String("recipient_id", string(r.RecipientID)),
					zap.Duration("age", age),
				)
			}
		}
		if err != nil && !errors.Is(err, ErrConflict) {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// transferKey is the idempotency key of r's current attempt. The first attempt
// uses the bare id; later ones add the attempt number so a retry after a
// rejection is not answered from the gateway's cached error.
func transferKey(r *Remittance) string {
	if r.Attempts <= 1 {
		return string(r.ID)
	}
	return string(r.ID) + ":" + strconv.Itoa(r.Attempts)
}

// RetryFailed returns failed remittances to pending while they have
// attempts left and escalates the rest.
func (s *Service) RetryFailed(ctx context.Context) (RetryResult, error) {
	var out RetryResult
	rows, err := s.repo.ListByStatus(ctx, StatusFailed, s.now().Add(time.Nanosecond), s.opts.BatchSize)
	if err != nil {
		return out, err
	}
	var errs []error
	for i := range rows {
		r := &rows[i]
		if r.Attempts < s.opts.MaxAttempts {
			err = s.transition(ctx, r, StatusPending, StatusPatch{}, "system", "retry")
			if err == nil {
				out.Requeued++
			}
		} else {
			err = s.transition(ctx, r, StatusEscalated, StatusPatch{}, "system", "retry budget exhausted")
			if err == nil {
				out.Escalated++
				s.logger.Warn("remittance escalated",
					zap.String("remittance_id", string(r.ID)),
					zap.String("recipient_id", string(r.RecipientID)),
					zap.Int("attempts", r.Attempts),
					zap.String("last_error", r.LastError),
				)
			}
		}
		if err != nil && !errors.Is(err, ErrConflict) {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Release gives an escalated remittance's shares back so a later run can
// claim them again.
func (s *Service) Release(ctx context.Context, id types.ID, actor string) (*Remittance, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusReleased) {
		return r, ErrInvalidState
	}
	now := s.now()
	ok, err := s.repo.Release(ctx, r.ID, r.StatusVersion, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if actor == "" {
		actor = "admin"
	}
	_ = s.repo.AppendEvent(ctx, &Event{
		RemittanceID: r.ID,
		FromStatus:   r.Status,
		ToStatus:     StatusReleased,
		ActorType:    actor,
		CreatedAt:    now,
	})
	r.Status = StatusReleased
	r.StatusVersion++
	r.UpdatedAt = now
	s.logger.Info("remittance released", zap.String("remittance_id", string(r.ID)), zap.String("actor", actor))
	return r, nil
}

// HandleJob runs and, when pending, processes one queued recipient period.
func (s *Service) HandleJob(ctx context.Context, job Job) error {
	r, err := s.Run(ctx, job.RecipientID, job.Period())
	if errors.Is(err, ErrNothingToRemit) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.Status != StatusPending {
		return nil
	}
	_, err = s.Process(ctx, r.ID)
	return err
}

// Pending lists remittances waiting for a transfer attempt.
func (s *Service) Pending(ctx context.Context) ([]Remittance, error) {
	return s.repo.ListByStatus(ctx, StatusPending, s.now().Add(time.Nanosecond), s.opts.BatchSize)
}

// RecipientsDue lists recipients with shares not yet claimed in the period.
func (s *Service) RecipientsDue(ctx context.Context, p Period) ([]types.ID, error) {
	return s.repo.RecipientsWithUnclaimed(ctx, p)
}

func (s *Service) PutPayoutAccount(ctx context.Context, recipientID types.ID, account string) error {
	account = strings.TrimSpace(account)
	if recipientID == "" || account == "" {
		return ErrBadRequest
	}
	return s.repo.PutPayoutAccount(ctx, recipientID, account, s.now())
}

// transition applies one CAS status change to r and records it.
func (s *Service) transition(ctx context.Context, r *Remittance, to Status, patch StatusPatch, actor, note string) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	now := s.now()
	ok, err := s.repo.UpdateStatus(ctx, r.ID, r.Status, to, r.StatusVersion, patch, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	from := r.Status
	r.Status = to
	r.StatusVersion++
	r.UpdatedAt = now
	if patch.TransferID != "" {
		r.TransferID = patch.TransferID
	}
	if patch.LastError != "" {
		r.LastError = patch.LastError
	}
	if to == StatusCompleted {
		r.LastError = ""
	}
	if patch.IncAttempts {
		r.Attempts++
	}
	_ = s.repo.AppendEvent(ctx, &Event{
		RemittanceID: r.ID,
		FromStatus:   from,
		ToStatus:     to,
		ActorType:    actor,
		Note:         note,
		CreatedAt:    now,
	})
	s.logger.Info("remittance status changed",
		zap.String("remittance_id", string(r.ID)),
		zap.String("recipient_id", string(r.RecipientID)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}
