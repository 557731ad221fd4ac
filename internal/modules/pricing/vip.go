// README: VIP engine; picks the strongest live grant for a spot and carves out the free window.
package pricing

import (
	"time"

	"parkangel/internal/modules/eligibility"
	"parkangel/internal/types"
)

type VIPDecision struct {
	Assignment *eligibility.VIPAssignment
	// FreeUntil ends the free window; the session is free over [start, FreeUntil).
	FreeUntil time.Time
}

// Free reports whether any part of the session is free.
func (d VIPDecision) Free() bool {
	return d.Assignment != nil
}

// ApplyVIP chooses among assignments that are live at start and cover the spot,
// preferring the most permissive type and, within a type, the earliest grant.
// Flex types free only the first TimeLimitHours, and no window runs past the
// grant's ValidUntil; the rest is charged normally.
func ApplyVIP(assignments []eligibility.VIPAssignment, spotID types.ID, start, end time.Time) VIPDecision {
	var best *eligibility.VIPAssignment
	for i := range assignments {
		a := &assignments[i]
		if !a.ActiveAt(start) || !a.Covers(spotID) {
			continue
		}
		if best == nil || a.Type.Rank() < best.Type.Rank() ||
			(a.Type.Rank() == best.Type.Rank() && a.CreatedAt.Before(best.CreatedAt)) {
			best = a
		}
	}
	if best == nil {
		return VIPDecision{FreeUntil: start}
	}
	until := end
	if best.Type.TimeLimited() && best.TimeLimitHours != nil {
		if limit := start.Add(time.Duration(*best.TimeLimitHours) * time.Hour); limit.Before(until) {
			until = limit
		}
	}
	if best.ValidUntil != nil && best.ValidUntil.Before(until) {
		until = *best.ValidUntil
	}
	return VIPDecision{Assignment: best, FreeUntil: until}
}

// vipLineItem is the zero-priced item covering the free window.
func vipLineItem(d VIPDecision, start time.Time) LineItem {
	return LineItem{
		Start:               start,
		End:                 d.FreeUntil,
		Source:              SourceVIPFree,
		Label:               string(d.Assignment.Type),
		VehicleMultiplier:   types.One,
		OccupancyMultiplier: types.One,
		Seconds:             int64(d.FreeUntil.Sub(start) / time.Second),
	}
}
