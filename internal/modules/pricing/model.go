// README: Charge ledger rows, booking events and resolved pricing snapshots.
package pricing

import (
	"time"

	"parkangel/internal/modules/eligibility"
	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/modules/revenue"
	"parkangel/internal/types"
)

const (
	EventCheckout     = "checkout"
	compensationEvent = "compensation:"
)

// BookingEvent is a billable parking session fact.
type BookingEvent struct {
	BookingID   types.ID
	EventType   string
	SpotID      types.ID
	UserID      types.ID
	VehicleType string
	Start       time.Time
	End         time.Time
	// Occupancy is the lot occupancy fraction observed at charge time.
	Occupancy types.BasisPoints
	// Claims are discount eligibilities the user asserted at booking time.
	Claims []eligibility.Predicate
	// ClaimedVIP is set when the rider app presented the booking as a VIP booking.
	ClaimedVIP bool
}

// ResolvedConfig is a PricingConfig with every field settled.
type ResolvedConfig struct {
	BaseRate         int64                            `json:"baseRate"`
	VehicleTypeRates map[string]hierarchy.VehicleRate `json:"vehicleTypeRates"`
	TimeBasedRates   []hierarchy.TimeBasedRate        `json:"timeBasedRates"`
	HolidayRates     []hierarchy.HolidayRate          `json:"holidayRates"`
	OccupancyCurve   []hierarchy.OccupancyStep        `json:"occupancyCurve"`
	VATRate          types.BasisPoints                `json:"vatRate"`
}

// SystemDefault marks a field that no hierarchy level overrode.
const SystemDefault hierarchy.NodeType = "system_default"

// Source records which level supplied a resolved field.
type Source struct {
	NodeID   types.ID           `json:"nodeId,omitempty"`
	NodeType hierarchy.NodeType `json:"nodeType"`
	Version  int                `json:"version,omitempty"`
}

// Resolved is the snapshot a charge is computed against.
type Resolved struct {
	SpotID      types.ID                   `json:"spotId"`
	LocationID  types.ID                   `json:"locationId"`
	OperatorID  types.ID                   `json:"operatorId"`
	HostID      types.ID                   `json:"hostId,omitempty"`
	ParkingType hierarchy.ParkingType      `json:"parkingType"`
	Config      ResolvedConfig             `json:"config"`
	Provenance  map[hierarchy.Field]Source `json:"provenance"`
}

type RateSource string

const (
	SourceBase            RateSource = "base"
	SourceVehicleOverride RateSource = "vehicle_override"
	SourceTimeBand        RateSource = "time_band"
	SourceHoliday         RateSource = "holiday"
	SourceVIPFree         RateSource = "vip_free"
)

// LineItem is one independently priced sub-interval of a session.
type LineItem struct {
	Start               time.Time         `json:"start"`
	End                 time.Time         `json:"end"`
	Source              RateSource        `json:"source"`
	Label               string            `json:"label,omitempty"`
	HourlyRate          int64             `json:"hourlyRate"`
	VehicleMultiplier   types.BasisPoints `json:"vehicleMultiplier"`
	OccupancyMultiplier types.BasisPoints `json:"occupancyMultiplier"`
	Seconds             int64             `json:"seconds"`
	Amount              int64             `json:"amount"`
}

type VIPApplied struct {
	AssignmentID types.ID            `json:"assignmentId"`
	Type         eligibility.VIPType `json:"type"`
	FreeSeconds  int64               `json:"freeSeconds"`
}

type DiscountApplied struct {
	RuleID      types.ID          `json:"ruleId"`
	Name        string            `json:"name"`
	Percentage  types.BasisPoints `json:"percentage"`
	AmountSaved int64             `json:"amountSaved"`
	VATExempt   bool              `json:"vatExempt"`
}

// ChargeRecord is an immutable ledger row. Corrections are new records whose
// CompensatesID points at the original.
type ChargeRecord struct {
	ID               types.ID
	BookingID        types.ID
	EventType        string
	SpotID           types.ID
	UserID           types.ID
	OperatorID       types.ID
	HostID           types.ID
	ParkingType      hierarchy.ParkingType
	VehicleType      string
	SessionStart     time.Time
	SessionEnd       time.Time
	Snapshot         Resolved
	Items            []LineItem
	VIP              *VIPApplied
	Subtotal         int64
	Discount         *DiscountApplied
	DiscountedAmount int64
	VATRate          types.BasisPoints
	VATExempt        bool
	VATAmount        int64
	TotalAmount      int64
	Currency         string
	CompensatesID    *types.ID
	// Note carries the operator's reason on compensating records.
	Note string
	// ReviewReason is set when revenue could not be distributed.
	ReviewReason string
	CreatedAt    time.Time
}

// DistributableBase is the tax-excluded amount split among recipients.
func (c ChargeRecord) DistributableBase() int64 {
	return c.TotalAmount - c.VATAmount
}

// Breakdown is the itemized view used by receipts and reports.
type Breakdown struct {
	Charge ChargeRecord
	Shares []revenue.Share
}
