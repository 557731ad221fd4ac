// README: Splits a charge's tax-excluded total among recipients without losing or inventing a centavo.
package revenue

import (
	"errors"
	"fmt"
	"time"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/types"
)

var ErrDistribution = errors.New("distribution error")

// DistributionError means the split could not be assigned exactly; the charge is
// flagged for manual review instead of guessing.
type DistributionError struct {
	ChargeID types.ID
	Reason   string
}

func (e *DistributionError) Error() string {
	return fmt.Sprintf("distribution error for charge %s: %s", e.ChargeID, e.Reason)
}

func (e *DistributionError) Is(target error) bool {
	return target == ErrDistribution
}

// Input is everything the distributor needs from a charge record.
type Input struct {
	ChargeID    types.ID
	Base        int64 // totalAmount - vatAmount; negative for compensating records
	Currency    string
	OperatorID  types.ID
	HostID      types.ID
	ParkingType hierarchy.ParkingType
	CreatedAt   time.Time
}

// SplitAmounts rounds every share except the last, which receives the
// remainder. The result always sums to base; a remainder with the wrong sign
// (possible with three or more recipients and tiny bases) is reported rather
// than clamped.
func SplitAmounts(base int64, splits []Split) ([]int64, error) {
	if len(splits) == 0 {
		return nil, errors.New("no recipients")
	}
	amounts := make([]int64, len(splits))
	var assigned int64
	for i := 0; i < len(splits)-1; i++ {
		amounts[i] = splits[i].Percentage.ApplyTo(base)
		assigned += amounts[i]
	}
	last := base - assigned
	if (base >= 0 && last < 0) || (base < 0 && last > 0) {
		return nil, fmt.Errorf("remainder %d has the wrong sign for base %d", last, base)
	}
	amounts[len(amounts)-1] = last
	return amounts, nil
}

// Distribute builds one Share per recipient of cfg.
func Distribute(in Input, cfg ShareConfig, platformID types.ID) ([]Share, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	recipients := make([]types.ID, len(cfg.Splits))
	for i, s := range cfg.Splits {
		switch s.Role {
		case RolePlatform:
			recipients[i] = platformID
		case RoleOperator:
			recipients[i] = in.OperatorID
		case RoleHost:
			recipients[i] = in.HostID
		}
		if recipients[i] == "" {
			return nil, &DistributionError{ChargeID: in.ChargeID, Reason: "no recipient for role " + string(s.Role)}
		}
	}

	amounts, err := SplitAmounts(in.Base, cfg.Splits)
	if err != nil {
		return nil, &DistributionError{ChargeID: in.ChargeID, Reason: err.Error()}
	}

	shares := make([]Share, len(amounts))
	var sum int64
	for i, amt := range amounts {
		sum += amt
		shares[i] = Share{
			ID:             types.NewID(),
			ChargeRecordID: in.ChargeID,
			RecipientID:    recipients[i],
			Role:           cfg.Splits[i].Role,
			Amount:         amt,
			Currency:       in.Currency,
			Position:       i,
			CreatedAt:      in.CreatedAt,
		}
	}
	if sum != in.Base {
		return nil, &DistributionError{ChargeID: in.ChargeID, Reason: fmt.Sprintf("shares sum to %d, base is %d", sum, in.Base)}
	}
	return shares, nil
}
