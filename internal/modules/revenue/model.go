// README: Revenue share configuration and the append-only share rows produced per charge.
package revenue

import (
	"fmt"
	"time"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/types"
)

// HostedDefaultKey is the config key for hosted parking, independent of operators.
const HostedDefaultKey = "hosted-default"

type Role string

const (
	RolePlatform Role = "park_angel"
	RoleOperator Role = "operator"
	RoleHost     Role = "host"
)

type Split struct {
	Role       Role              `json:"role"`
	Percentage types.BasisPoints `json:"percentage"`
}

// ShareConfig lists recipients in split order; the last one absorbs rounding.
type ShareConfig struct {
	Key         string
	ParkingType hierarchy.ParkingType
	Splits      []Split
	UpdatedAt   time.Time
}

// DefaultHostedConfig is 60% host, 40% Park Angel.
func DefaultHostedConfig() ShareConfig {
	return ShareConfig{
		Key:         HostedDefaultKey,
		ParkingType: hierarchy.ParkingHosted,
		Splits: []Split{
			{Role: RoleHost, Percentage: 6000},
			{Role: RolePlatform, Percentage: 4000},
		},
	}
}

// Validate enforces that percentages are non-negative, roles known and unique,
// and that they sum to exactly 100%.
func (c ShareConfig) Validate() error {
	if c.Key == "" {
		return &hierarchy.ConfigurationError{Path: "key", Reason: "operator id or " + HostedDefaultKey + " required"}
	}
	if !c.ParkingType.Valid() {
		return &hierarchy.ConfigurationError{Path: "parkingType", Reason: "unknown parking type " + string(c.ParkingType)}
	}
	if (c.Key == HostedDefaultKey) != (c.ParkingType == hierarchy.ParkingHosted) {
		return &hierarchy.ConfigurationError{Path: "parkingType", Reason: "hosted parking is configured only under " + HostedDefaultKey}
	}
	if len(c.Splits) == 0 {
		return &hierarchy.ConfigurationError{Path: "splits", Reason: "at least one recipient required"}
	}
	seen := map[Role]bool{}
	var sum types.BasisPoints
	for i, s := range c.Splits {
		path := fmt.Sprintf("splits[%d]", i)
		switch s.Role {
		case RolePlatform, RoleOperator, RoleHost:
		default:
			return &hierarchy.ConfigurationError{Path: path + ".role", Reason: "unknown role " + string(s.Role)}
		}
		if seen[s.Role] {
			return &hierarchy.ConfigurationError{Path: path + ".role", Reason: "duplicate role " + string(s.Role)}
		}
		seen[s.Role] = true
		if s.Percentage < 0 {
			return &hierarchy.ConfigurationError{Path: path + ".percentage", Reason: "must not be negative"}
		}
		sum += s.Percentage
	}
	if sum != types.Hundred {
		return &hierarchy.ConfigurationError{Path: "splits", Reason: fmt.Sprintf("percentages sum to %s, want 100%%", sum)}
	}
	return nil
}

// Share is one recipient's portion of one charge. RemittanceID is set exactly
// once when a remittance claims it.
type Share struct {
	ID             types.ID
	ChargeRecordID types.ID
	RecipientID    types.ID
	Role           Role
	Amount         int64
	Currency       string
	RemittanceID   *types.ID
	// Position is the share's index in the split order; the last one absorbs rounding.
	Position  int
	CreatedAt time.Time
}
