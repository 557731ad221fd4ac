// README: Location→Section→Zone→Spot tree and the per-node pricing configuration.
package hierarchy

import (
	"time"

	"parkangel/internal/types"
)

type NodeType string

const (
	NodeLocation NodeType = "location"
	NodeSection  NodeType = "section"
	NodeZone     NodeType = "zone"
	NodeSpot     NodeType = "spot"
)

// parentType is the only type a node of the key type may hang under.
var parentType = map[NodeType]NodeType{
	NodeSection: NodeLocation,
	NodeZone:    NodeSection,
	NodeSpot:    NodeZone,
}

type ParkingType string

const (
	ParkingStreet   ParkingType = "street"
	ParkingFacility ParkingType = "facility"
	ParkingHosted   ParkingType = "hosted"
)

func (p ParkingType) Valid() bool {
	return p == ParkingStreet || p == ParkingFacility || p == ParkingHosted
}

// Node is one level of the tree. OperatorID is normally only set on a Location;
// HostID only on hosted spots. Config is the node's own override snapshot, nil
// when the node overrides nothing.
type Node struct {
	ID            types.ID
	Type          NodeType
	ParentID      *types.ID
	Name          string
	OperatorID    types.ID
	HostID        types.ID
	ParkingType   ParkingType
	Config        *PricingConfig
	ConfigVersion int
	CreatedAt     time.Time
}

// Field names a single independently-overridable PricingConfig field.
type Field string

const (
	FieldBaseRate         Field = "baseRate"
	FieldVehicleTypeRates Field = "vehicleTypeRates"
	FieldTimeBasedRates   Field = "timeBasedRates"
	FieldHolidayRates     Field = "holidayRates"
	FieldOccupancyCurve   Field = "occupancyCurve"
	FieldVATRate          Field = "vatRate"
)

var AllFields = []Field{
	FieldBaseRate,
	FieldVehicleTypeRates,
	FieldTimeBasedRates,
	FieldHolidayRates,
	FieldOccupancyCurve,
	FieldVATRate,
}

// PricingConfig fields are nil when not overridden at this level. An empty,
// non-nil collection is an explicit override to "none".
type PricingConfig struct {
	BaseRate         *int64                 `json:"baseRate,omitempty"`
	VehicleTypeRates map[string]VehicleRate `json:"vehicleTypeRates"`
	TimeBasedRates   []TimeBasedRate        `json:"timeBasedRates"`
	HolidayRates     []HolidayRate          `json:"holidayRates"`
	OccupancyCurve   []OccupancyStep        `json:"occupancyCurve"`
	VATRate          *types.BasisPoints     `json:"vatRate,omitempty"`
}

// Has reports whether the config explicitly overrides f.
func (c *PricingConfig) Has(f Field) bool {
	if c == nil {
		return false
	}
	switch f {
	case FieldBaseRate:
		return c.BaseRate != nil
	case FieldVehicleTypeRates:
		return c.VehicleTypeRates != nil
	case FieldTimeBasedRates:
		return c.TimeBasedRates != nil
	case FieldHolidayRates:
		return c.HolidayRates != nil
	case FieldOccupancyCurve:
		return c.OccupancyCurve != nil
	case FieldVATRate:
		return c.VATRate != nil
	}
	return false
}

// CopyField copies field f from src into c.
func (c *PricingConfig) CopyField(f Field, src *PricingConfig) {
	switch f {
	case FieldBaseRate:
		c.BaseRate = src.BaseRate
	case FieldVehicleTypeRates:
		c.VehicleTypeRates = src.VehicleTypeRates
	case FieldTimeBasedRates:
		c.TimeBasedRates = src.TimeBasedRates
	case FieldHolidayRates:
		c.HolidayRates = src.HolidayRates
	case FieldOccupancyCurve:
		c.OccupancyCurve = src.OccupancyCurve
	case FieldVATRate:
		c.VATRate = src.VATRate
	}
}

type VehicleRateKind string

const (
	VehicleOverride   VehicleRateKind = "override"
	VehicleMultiplier VehicleRateKind = "multiplier"
)

// VehicleRate either replaces the base hourly rate or scales the selected rate.
type VehicleRate struct {
	Kind       VehicleRateKind   `json:"kind"`
	Rate       int64             `json:"rate,omitempty"`
	Multiplier types.BasisPoints `json:"multiplier,omitempty"`
}

func NewVehicleOverride(rate int64) (VehicleRate, error) {
	v := VehicleRate{Kind: VehicleOverride, Rate: rate}
	return v, v.validate("vehicleTypeRates")
}

func NewVehicleMultiplier(m types.BasisPoints) (VehicleRate, error) {
	v := VehicleRate{Kind: VehicleMultiplier, Multiplier: m}
	return v, v.validate("vehicleTypeRates")
}

type TimeRateKind string

const (
	TimeHourRange TimeRateKind = "hour_range"
	TimeWeekday   TimeRateKind = "weekday"
	TimeWeekend   TimeRateKind = "weekend"
	TimeDefault   TimeRateKind = "default"
)

// Specificity orders time rule kinds; a higher value wins.
func (k TimeRateKind) Specificity() int {
	switch k {
	case TimeHourRange:
		return 3
	case TimeWeekday, TimeWeekend:
		return 2
	case TimeDefault:
		return 1
	}
	return 0
}

// TimeBasedRate is an hourly rate that applies to matching local times.
// StartHour/EndHour and Days are only meaningful for hour_range; an hour range
// covers [StartHour, EndHour) and empty Days means every day.
type TimeBasedRate struct {
	Kind      TimeRateKind   `json:"kind"`
	Label     string         `json:"label,omitempty"`
	Days      []time.Weekday `json:"days,omitempty"`
	StartHour int            `json:"startHour,omitempty"`
	EndHour   int            `json:"endHour,omitempty"`
	Rate      int64          `json:"rate"`
}

func NewHourRangeRate(label string, days []time.Weekday, startHour, endHour int, rate int64) (TimeBasedRate, error) {
	r := TimeBasedRate{Kind: TimeHourRange, Label: label, Days: days, StartHour: startHour, EndHour: endHour, Rate: rate}
	return r, r.validate("timeBasedRates")
}

func NewDayKindRate(kind TimeRateKind, label string, rate int64) (TimeBasedRate, error) {
	r := TimeBasedRate{Kind: kind, Label: label, Rate: rate}
	return r, r.validate("timeBasedRates")
}

// Matches reports whether local time t falls under the rule.
func (r TimeBasedRate) Matches(t time.Time) bool {
	wd := t.Weekday()
	switch r.Kind {
	case TimeDefault:
		return true
	case TimeWeekday:
		return wd != time.Saturday && wd != time.Sunday
	case TimeWeekend:
		return wd == time.Saturday || wd == time.Sunday
	case TimeHourRange:
		if len(r.Days) > 0 && !containsDay(r.Days, wd) {
			return false
		}
		h := t.Hour()
		return h >= r.StartHour && h < r.EndHour
	}
	return false
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

type HolidayKind string

const (
	HolidayOneTime   HolidayKind = "one_time"
	HolidayRecurring HolidayKind = "recurring"
)

// HolidayRate replaces any time-based rate for the whole local day it matches.
// One-time holidays use Date (YYYY-MM-DD); recurring ones use Month and Day.
type HolidayRate struct {
	Kind  HolidayKind `json:"kind"`
	Name  string      `json:"name"`
	Date  string      `json:"date,omitempty"`
	Month time.Month  `json:"month,omitempty"`
	Day   int         `json:"day,omitempty"`
	Rate  int64       `json:"rate"`
}

func NewOneTimeHoliday(name, date string, rate int64) (HolidayRate, error) {
	h := HolidayRate{Kind: HolidayOneTime, Name: name, Date: date, Rate: rate}
	return h, h.validate("holidayRates")
}

func NewRecurringHoliday(name string, month time.Month, day int, rate int64) (HolidayRate, error) {
	h := HolidayRate{Kind: HolidayRecurring, Name: name, Month: month, Day: day, Rate: rate}
	return h, h.validate("holidayRates")
}

func (h HolidayRate) Matches(t time.Time) bool {
	switch h.Kind {
	case HolidayOneTime:
		return t.Format(time.DateOnly) == h.Date
	case HolidayRecurring:
		return t.Month() == h.Month && t.Day() == h.Day
	}
	return false
}

// OccupancyStep applies Multiplier when occupancy is strictly above Above.
type OccupancyStep struct {
	Above      types.BasisPoints `json:"above"`
	Multiplier types.BasisPoints `json:"multiplier"`
}
