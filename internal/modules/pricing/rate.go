// README: Rate calculator; splits a session wherever pricing inputs change and prices each piece.
package pricing

import (
	"errors"
	"time"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/types"
)

var ErrInvalidInterval = errors.New("session end is before start")

const secondsPerHour = 3600

type RateInput struct {
	Start       time.Time
	End         time.Time
	VehicleType string
	Occupancy   types.BasisPoints
	// Location is the local zone for weekday, hour band and holiday matching.
	Location *time.Location
}

// rateKey is everything that decides the price of one second of parking.
type rateKey struct {
	source     RateSource
	label      string
	hourlyRate int64
	vehicleMul types.BasisPoints
}

// CalculateRate prices [Start, End). Pieces are cut at local midnights and,
// when hour-range rules exist, at every local hour; adjacent pieces with the
// same rateKey are merged before rounding, so each line item is rounded once.
func CalculateRate(cfg ResolvedConfig, in RateInput) ([]LineItem, error) {
	if in.End.Before(in.Start) {
		return nil, ErrInvalidInterval
	}
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	hourly := hasHourRange(cfg.TimeBasedRates)
	occMul := OccupancyMultiplier(cfg.OccupancyCurve, in.Occupancy)

	var items []LineItem
	var prev rateKey
	for cur := in.Start; cur.Before(in.End); {
		next := nextBoundary(cur.In(loc), hourly)
		if next.After(in.End) {
			next = in.End
		}
		key := selectRate(cfg, cur.In(loc), in.VehicleType)
		if len(items) > 0 && key == prev {
			items[len(items)-1].End = next
		} else {
			items = append(items, LineItem{
				Start:               cur,
				End:                 next,
				Source:              key.source,
				Label:               key.label,
				HourlyRate:          key.hourlyRate,
				VehicleMultiplier:   key.vehicleMul,
				OccupancyMultiplier: occMul,
			})
			prev = key
		}
		cur = next
	}

	for i := range items {
		it := &items[i]
		it.Seconds = int64(it.End.Sub(it.Start) / time.Second)
		it.Amount = types.ScaleRound(
			secondsPerHour*int64(types.One)*int64(types.One),
			it.HourlyRate, int64(it.VehicleMultiplier), int64(it.OccupancyMultiplier), it.Seconds,
		)
	}
	return items, nil
}

// SumItems totals line item amounts.
func SumItems(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Amount
	}
	return total
}

// OccupancyMultiplier returns the multiplier of the highest step strictly below
// the observed occupancy, or 1x when none applies.
func OccupancyMultiplier(curve []hierarchy.OccupancyStep, occupancy types.BasisPoints) types.BasisPoints {
	mul := types.One
	var best types.BasisPoints = -1
	for _, s := range curve {
		if occupancy > s.Above && s.Above > best {
			best = s.Above
			mul = s.Multiplier
		}
	}
	return mul
}

// selectRate applies, in order: base or vehicle override, the most specific
// time band, then a holiday, which always wins. A vehicle multiplier scales
// whichever rate was chosen.
func selectRate(cfg ResolvedConfig, local time.Time, vehicleType string) rateKey {
	key := rateKey{source: SourceBase, hourlyRate: cfg.BaseRate, vehicleMul: types.One}

	vr, hasVehicle := cfg.VehicleTypeRates[vehicleType]
	if hasVehicle {
		switch vr.Kind {
		case hierarchy.VehicleOverride:
			key.source = SourceVehicleOverride
			key.label = vehicleType
			key.hourlyRate = vr.Rate
		case hierarchy.VehicleMultiplier:
			key.vehicleMul = vr.Multiplier
		}
	}

	best := -1
	for _, r := range cfg.TimeBasedRates {
		if spec := r.Kind.Specificity(); spec > best && r.Matches(local) {
			best = spec
			key.source = SourceTimeBand
			key.label = r.Label
			if key.label == "" {
				key.label = string(r.Kind)
			}
			key.hourlyRate = r.Rate
		}
	}

	for _, h := range cfg.HolidayRates {
		if h.Matches(local) {
			key.source = SourceHoliday
			key.label = h.Name
			key.hourlyRate = h.Rate
			break
		}
	}
	return key
}

func hasHourRange(rates []hierarchy.TimeBasedRate) bool {
	for _, r := range rates {
		if r.Kind == hierarchy.TimeHourRange {
			return true
		}
	}
	return false
}

// nextBoundary returns the next local top-of-hour (hourly) or local midnight.
// time.Date normalizes across DST transitions.
func nextBoundary(local time.Time, hourly bool) time.Time {
	y, m, d := local.Date()
	if hourly {
		return time.Date(y, m, d, local.Hour()+1, 0, 0, 0, local.Location())
	}
	return time.Date(y, m, d+1, 0, 0, 0, 0, local.Location())
}
