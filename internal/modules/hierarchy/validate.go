// README: Write-time validation of pricing configuration.
package hierarchy

import (
	"errors"
	"fmt"
	"time"

	"parkangel/internal/types"
)

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError points at the offending field path, e.g. "timeBasedRates[2].endHour".
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error at %s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configErr(path, format string, args ...any) error {
	return &ConfigurationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every field that is set. Unset fields are always valid.
func (c *PricingConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.BaseRate != nil && *c.BaseRate < 0 {
		return configErr(string(FieldBaseRate), "must not be negative")
	}
	if c.VATRate != nil && (*c.VATRate < 0 || *c.VATRate > types.Hundred) {
		return configErr(string(FieldVATRate), "must be between 0 and 100%%")
	}
	for vt, vr := range c.VehicleTypeRates {
		if vt == "" {
			return configErr(string(FieldVehicleTypeRates), "empty vehicle type")
		}
		if err := vr.validate(fmt.Sprintf("%s[%s]", FieldVehicleTypeRates, vt)); err != nil {
			return err
		}
	}
	for i, r := range c.TimeBasedRates {
		if err := r.validate(fmt.Sprintf("%s[%d]", FieldTimeBasedRates, i)); err != nil {
			return err
		}
	}
	for i, h := range c.HolidayRates {
		if err := h.validate(fmt.Sprintf("%s[%d]", FieldHolidayRates, i)); err != nil {
			return err
		}
	}
	var prev types.BasisPoints = -1
	for i, s := range c.OccupancyCurve {
		path := fmt.Sprintf("%s[%d]", FieldOccupancyCurve, i)
		if s.Above < 0 || s.Above >= types.Hundred {
			return configErr(path+".above", "must be in [0, 100%%)")
		}
		if s.Above <= prev {
			return configErr(path+".above", "thresholds must be strictly increasing")
		}
		if s.Multiplier <= 0 {
			return configErr(path+".multiplier", "must be positive")
		}
		prev = s.Above
	}
	return nil
}

func (v VehicleRate) validate(path string) error {
	switch v.Kind {
	case VehicleOverride:
		if v.Rate < 0 {
			return configErr(path+".rate", "must not be negative")
		}
	case VehicleMultiplier:
		if v.Multiplier <= 0 {
			return configErr(path+".multiplier", "must be positive")
		}
	default:
		return configErr(path+".kind", "unknown kind %q", v.Kind)
	}
	return nil
}

func (r TimeBasedRate) validate(path string) error {
	if r.Rate < 0 {
		return configErr(path+".rate", "must not be negative")
	}
	switch r.Kind {
	case TimeHourRange:
		if r.StartHour < 0 || r.StartHour > 23 {
			return configErr(path+".startHour", "must be in [0, 23]")
		}
		if r.EndHour <= r.StartHour || r.EndHour > 24 {
			return configErr(path+".endHour", "must be in (startHour, 24]")
		}
		for _, d := range r.Days {
			if d < time.Sunday || d > time.Saturday {
				return configErr(path+".days", "invalid weekday %d", d)
			}
		}
	case TimeWeekday, TimeWeekend, TimeDefault:
		if len(r.Days) > 0 || r.StartHour != 0 || r.EndHour != 0 {
			return configErr(path, "%s rule takes no days or hours", r.Kind)
		}
	default:
		return configErr(path+".kind", "unknown kind %q", r.Kind)
	}
	return nil
}

func (h HolidayRate) validate(path string) error {
	if h.Rate < 0 {
		return configErr(path+".rate", "must not be negative")
	}
	switch h.Kind {
	case HolidayOneTime:
		if _, err := time.Parse(time.DateOnly, h.Date); err != nil {
			return configErr(path+".date", "want YYYY-MM-DD")
		}
	case HolidayRecurring:
		if h.Month < time.January || h.Month > time.December {
			return configErr(path+".month", "invalid month")
		}
		// 2024 is a leap year so Feb 29 is accepted.
		if h.Day < 1 || h.Day > time.Date(2024, h.Month+1, 0, 0, 0, 0, 0, time.UTC).Day() {
			return configErr(path+".day", "invalid day for month")
		}
	default:
		return configErr(path+".kind", "unknown kind %q", h.Kind)
	}
	return nil
}
