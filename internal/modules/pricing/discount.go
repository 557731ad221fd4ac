// README: Discount and VAT engine. At most one discount applies; VAT is computed on the discounted amount.
package pricing

import (
	"errors"
	"fmt"

	"parkangel/internal/modules/eligibility"
	"parkangel/internal/types"
)

var ErrEligibility = errors.New("eligibility error")

// EligibilityError reports a claim that could not be honored. It never fails a
// charge; the charge is computed without the benefit.
type EligibilityError struct {
	UserID types.ID
	Claim  string
	Reason string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("eligibility error for user %s (%s): %s", e.UserID, e.Claim, e.Reason)
}

func (e *EligibilityError) Is(target error) bool {
	return target == ErrEligibility
}

// DiscountDecision is the winning rule, if any, plus the claims that were refused.
type DiscountDecision struct {
	Rule    *eligibility.DiscountRule
	Refused []*EligibilityError
}

// SelectDiscount returns the single applicable rule with the highest percentage.
// Ties go to the lexically smallest rule id so the choice is stable across runs.
// A rule applies only when the user holds a verified record it accepts.
func SelectDiscount(userID types.ID, snap eligibility.Snapshot, claims []eligibility.Predicate) DiscountDecision {
	var out DiscountDecision
	for i := range snap.Rules {
		r := &snap.Rules[i]
		if !hasVerified(r.Eligibility, snap.Records) {
			continue
		}
		if out.Rule == nil || r.Percentage > out.Rule.Percentage ||
			(r.Percentage == out.Rule.Percentage && r.ID < out.Rule.ID) {
			out.Rule = r
		}
	}

	for _, c := range claims {
		if hasVerified(c, snap.Records) {
			continue
		}
		reason := "no verified record"
		if hasAny(c, snap.Records) {
			reason = "record not verified"
		}
		out.Refused = append(out.Refused, &EligibilityError{UserID: userID, Claim: claimName(c), Reason: reason})
	}
	return out
}

// TaxResult is the money side of a charge after discount and VAT.
type TaxResult struct {
	Discount         *DiscountApplied
	DiscountedAmount int64
	VATRate          types.BasisPoints
	VATExempt        bool
	VATAmount        int64
	TotalAmount      int64
}

// ApplyDiscountAndVAT computes discounted = subtotal - saved, then VAT on the
// discounted amount unless the rule exempts it. total = discounted + vat.
func ApplyDiscountAndVAT(subtotal int64, rule *eligibility.DiscountRule, vatRate types.BasisPoints) TaxResult {
	out := TaxResult{DiscountedAmount: subtotal, VATRate: vatRate}
	if rule != nil {
		saved := rule.Percentage.ApplyTo(subtotal)
		out.DiscountedAmount = subtotal - saved
		out.VATExempt = rule.VATExempt
		out.Discount = &DiscountApplied{
			RuleID:      rule.ID,
			Name:        rule.Name,
			Percentage:  rule.Percentage,
			AmountSaved: saved,
			VATExempt:   rule.VATExempt,
		}
	}
	if !out.VATExempt {
		out.VATAmount = vatRate.ApplyTo(out.DiscountedAmount)
	}
	out.TotalAmount = out.DiscountedAmount + out.VATAmount
	return out
}

func hasVerified(p eligibility.Predicate, records []eligibility.Record) bool {
	for _, r := range records {
		if r.Verified && p.Accepts(r) {
			return true
		}
	}
	return false
}

func hasAny(p eligibility.Predicate, records []eligibility.Record) bool {
	for _, r := range records {
		if p.Accepts(r) {
			return true
		}
	}
	return false
}

func claimName(p eligibility.Predicate) string {
	if p.Tag != "" {
		return string(p.Kind) + ":" + p.Tag
	}
	return string(p.Kind)
}
