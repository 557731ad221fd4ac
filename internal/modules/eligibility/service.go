// README: Eligibility service; VIP grants, operator-scoped discount rules and verified claims.
package eligibility

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkangel/internal/types"
)

var (
	ErrInvalidAssignment = errors.New("invalid vip assignment")
	ErrInvalidRule       = errors.New("invalid discount rule")
	ErrNotFound          = errors.New("eligibility entry not found")
)

// Repository is the persistence contract; *Store satisfies it.
type Repository interface {
	InsertAssignment(ctx context.Context, a VIPAssignment) error
	SetAssignmentActive(ctx context.Context, id types.ID, active bool) (bool, error)
	ActiveAssignments(ctx context.Context, userID types.ID, at time.Time) ([]VIPAssignment, error)
	InsertRule(ctx context.Context, r DiscountRule) error
	RulesForOperator(ctx context.Context, operatorID types.ID) ([]DiscountRule, error)
	UpsertRecord(ctx context.Context, r Record) error
	RecordsForUser(ctx context.Context, userID types.ID) ([]Record, error)
}

// Service is both the VIP registry and the discount registry.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

func (s *Service) AssignVIP(ctx context.Context, a VIPAssignment) (types.ID, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	a.ID = types.NewID()
	a.CreatedAt = s.now()
	if err := s.repo.InsertAssignment(ctx, a); err != nil {
		return "", err
	}
	s.logger.Info("vip assigned", zap.String("user_id", string(a.UserID)), zap.String("vip_type", string(a.Type)))
	return a.ID, nil
}

func (s *Service) RevokeVIP(ctx context.Context, id types.ID) error {
	ok, err := s.repo.SetAssignmentActive(ctx, id, false)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// GetActiveAssignments returns the user's VIP grants live at t.
func (s *Service) GetActiveAssignments(ctx context.Context, userID types.ID, at time.Time) ([]VIPAssignment, error) {
	all, err := s.repo.ActiveAssignments(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	// The store filters too; this keeps the registry honest for other Repository implementations.
	active := all[:0]
	for _, a := range all {
		if a.ActiveAt(at) {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *Service) PutDiscountRule(ctx context.Context, r DiscountRule) (types.ID, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	r.ID = types.NewID()
	r.CreatedAt = s.now()
	if err := s.repo.InsertRule(ctx, r); err != nil {
		return "", err
	}
	return r.ID, nil
}

// RecordClaim stores an eligibility claim; verified claims carry their verification time.
func (s *Service) RecordClaim(ctx context.Context, r Record) error {
	if r.UserID == "" {
		return ErrInvalidRule
	}
	if err := (Predicate{Kind: r.Kind, Tag: r.Tag}).validate(); err != nil {
		return err
	}
	if r.Verified && r.VerifiedAt == nil {
		now := s.now()
		r.VerifiedAt = &now
	}
	return s.repo.UpsertRecord(ctx, r)
}

// GetEligibleRules returns the operator's discount rules with the user's claims.
func (s *Service) GetEligibleRules(ctx context.Context, userID, operatorID types.ID) (Snapshot, error) {
	rules, err := s.repo.RulesForOperator(ctx, operatorID)
	if err != nil {
		return Snapshot{}, err
	}
	records, err := s.repo.RecordsForUser(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Rules: rules, Records: records}, nil
}
