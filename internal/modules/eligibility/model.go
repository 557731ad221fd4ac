// README: VIP assignments, discount rules and verified eligibility records.
package eligibility

import (
	"fmt"
	"time"

	"parkangel/internal/types"
)

type VIPType string

const (
	VIPTypeVVIP     VIPType = "vvip"
	VIPTypeFlexVVIP VIPType = "flex_vvip"
	VIPTypeVIP      VIPType = "vip"
	VIPTypeFlexVIP  VIPType = "flex_vip"
)

// Rank orders VIP types from most permissive (lowest) to least.
func (t VIPType) Rank() int {
	switch t {
	case VIPTypeVVIP:
		return 0
	case VIPTypeFlexVVIP:
		return 1
	case VIPTypeVIP:
		return 2
	case VIPTypeFlexVIP:
		return 3
	}
	return 99
}

// AnySpot reports whether the type ignores AssignedSpots.
func (t VIPType) AnySpot() bool {
	return t == VIPTypeVVIP || t == VIPTypeFlexVVIP
}

// TimeLimited reports whether the type only covers the first TimeLimitHours.
func (t VIPType) TimeLimited() bool {
	return t == VIPTypeFlexVVIP || t == VIPTypeFlexVIP
}

type VIPAssignment struct {
	ID             types.ID
	UserID         types.ID
	Type           VIPType
	AssignedSpots  []types.ID
	TimeLimitHours *int
	ValidFrom      time.Time
	ValidUntil     *time.Time
	IsActive       bool
	CreatedAt      time.Time
}

func (a VIPAssignment) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidAssignment)
	}
	if a.Type.Rank() == 99 {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAssignment, a.Type)
	}
	if a.Type.TimeLimited() && (a.TimeLimitHours == nil || *a.TimeLimitHours <= 0) {
		return fmt.Errorf("%w: %s requires a positive timeLimitHours", ErrInvalidAssignment, a.Type)
	}
	if !a.Type.TimeLimited() && a.TimeLimitHours != nil {
		return fmt.Errorf("%w: %s takes no timeLimitHours", ErrInvalidAssignment, a.Type)
	}
	if !a.Type.AnySpot() && len(a.AssignedSpots) == 0 {
		return fmt.Errorf("%w: %s requires assignedSpots", ErrInvalidAssignment, a.Type)
	}
	if a.ValidUntil != nil && !a.ValidUntil.After(a.ValidFrom) {
		return fmt.Errorf("%w: validUntil must be after validFrom", ErrInvalidAssignment)
	}
	return nil
}

// ActiveAt reports whether the assignment is live at t.
func (a VIPAssignment) ActiveAt(t time.Time) bool {
	if !a.IsActive || t.Before(a.ValidFrom) {
		return false
	}
	return a.ValidUntil == nil || t.Before(*a.ValidUntil)
}

// Covers reports whether the assignment applies to the spot.
func (a VIPAssignment) Covers(spotID types.ID) bool {
	if a.Type.AnySpot() {
		return true
	}
	for _, s := range a.AssignedSpots {
		if s == spotID {
			return true
		}
	}
	return false
}

type Kind string

const (
	KindSenior Kind = "senior"
	KindPWD    Kind = "pwd"
	KindCustom Kind = "custom"
)

// Predicate is the eligibility condition of a discount rule. Tag is only used
// by custom predicates.
type Predicate struct {
	Kind Kind   `json:"kind"`
	Tag  string `json:"tag,omitempty"`
}

func SeniorPredicate() Predicate { return Predicate{Kind: KindSenior} }
func PWDPredicate() Predicate    { return Predicate{Kind: KindPWD} }

func CustomPredicate(tag string) (Predicate, error) {
	p := Predicate{Kind: KindCustom, Tag: tag}
	return p, p.validate()
}

func (p Predicate) validate() error {
	switch p.Kind {
	case KindSenior, KindPWD:
		if p.Tag != "" {
			return fmt.Errorf("%w: %s predicate takes no tag", ErrInvalidRule, p.Kind)
		}
	case KindCustom:
		if p.Tag == "" {
			return fmt.Errorf("%w: custom predicate requires a tag", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown eligibility kind %q", ErrInvalidRule, p.Kind)
	}
	return nil
}

// Accepts reports whether the record satisfies the predicate, ignoring verification.
func (p Predicate) Accepts(r Record) bool {
	if p.Kind != r.Kind {
		return false
	}
	return p.Kind != KindCustom || p.Tag == r.Tag
}

type DiscountRule struct {
	ID          types.ID
	Name        string
	OperatorID  types.ID
	Percentage  types.BasisPoints
	VATExempt   bool
	Eligibility Predicate
	CreatedAt   time.Time
}

func (r DiscountRule) Validate() error {
	if r.Name == "" || r.OperatorID == "" {
		return fmt.Errorf("%w: name and operatorId are required", ErrInvalidRule)
	}
	if r.Percentage <= 0 || r.Percentage > types.Hundred {
		return fmt.Errorf("%w: percentage must be in (0, 100%%]", ErrInvalidRule)
	}
	return r.Eligibility.validate()
}

// Record is a user's eligibility claim. Only verified records unlock discounts.
type Record struct {
	UserID     types.ID
	Kind       Kind
	Tag        string
	Verified   bool
	VerifiedAt *time.Time
}

// Snapshot is what the pricing engine needs to pick a discount.
type Snapshot struct {
	Rules   []DiscountRule
	Records []Record
}
