// README: Revenue service validates share configs and turns charges into share rows.
package revenue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/types"
)

var ErrConfigNotFound = errors.New("revenue share config not found")

type ConfigStore interface {
	PutConfig(ctx context.Context, cfg ShareConfig) error
	GetConfig(ctx context.Context, key string, parkingType hierarchy.ParkingType) (*ShareConfig, error)
}

type Service struct {
	store      ConfigStore
	platformID types.ID
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(store ConfigStore, platformID types.ID, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, platformID: platformID, logger: logger, now: time.Now}
}

// PutConfig rejects configs whose percentages do not sum to 100% before anything is stored.
func (s *Service) PutConfig(ctx context.Context, cfg ShareConfig) error {
	if err := cfg.Validate(); err != nil {
		s.logger.Warn("revenue config rejected", zap.String("key", cfg.Key), zap.Error(err))
		return err
	}
	cfg.UpdatedAt = s.now()
	return s.store.PutConfig(ctx, cfg)
}

// ConfigFor picks the hosted config for hosted parking, otherwise the operator's
// config for that parking type. A missing operator config is a ConfigurationError.
func (s *Service) ConfigFor(ctx context.Context, operatorID types.ID, parkingType hierarchy.ParkingType) (ShareConfig, error) {
	if parkingType == hierarchy.ParkingHosted {
		cfg, err := s.store.GetConfig(ctx, HostedDefaultKey, hierarchy.ParkingHosted)
		if errors.Is(err, ErrConfigNotFound) {
			return DefaultHostedConfig(), nil
		}
		if err != nil {
			return ShareConfig{}, err
		}
		return *cfg, nil
	}
	cfg, err := s.store.GetConfig(ctx, string(operatorID), parkingType)
	if errors.Is(err, ErrConfigNotFound) {
		return ShareConfig{}, &hierarchy.ConfigurationError{
			Path:   "revenueShareConfig[" + string(operatorID) + "/" + string(parkingType) + "]",
			Reason: "no revenue split configured",
		}
	}
	if err != nil {
		return ShareConfig{}, err
	}
	return *cfg, nil
}

// Distribute resolves the applicable config and splits the charge base.
func (s *Service) Distribute(ctx context.Context, in Input) ([]Share, error) {
	cfg, err := s.ConfigFor(ctx, in.OperatorID, in.ParkingType)
	if err != nil {
		return nil, err
	}
	return Distribute(in, cfg, s.platformID)
}
