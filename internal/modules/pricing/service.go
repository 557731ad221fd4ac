// README: Charge service; runs a booking event through resolve, VIP, rate, discount, VAT and distribution.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parkangel/internal/modules/eligibility"
	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/modules/revenue"
	"parkangel/internal/types"
)

var (
	ErrNotFound        = errors.New("charge not found")
	ErrDuplicateCharge = errors.New("charge already recorded for booking event")
	ErrInvalidEvent    = errors.New("invalid booking event")
)

type ChargeStore interface {
	Append(ctx context.Context, rec *ChargeRecord, shares []revenue.Share) error
	Get(ctx context.Context, id types.ID) (*ChargeRecord, error)
	GetByBooking(ctx context.Context, bookingID types.ID, eventType string) (*ChargeRecord, error)
}

type ShareReader interface {
	SharesForCharge(ctx context.Context, chargeID types.ID) ([]revenue.Share, error)
}

type ChainSource interface {
	Chain(ctx context.Context, spotID types.ID, asOf time.Time) ([]hierarchy.Node, error)
}

type VIPRegistry interface {
	GetActiveAssignments(ctx context.Context, userID types.ID, at time.Time) ([]eligibility.VIPAssignment, error)
}

type DiscountRegistry interface {
	GetEligibleRules(ctx context.Context, userID, operatorID types.ID) (eligibility.Snapshot, error)
}

type Distributor interface {
	Distribute(ctx context.Context, in revenue.Input) ([]revenue.Share, error)
}

// Deps are the collaborators of the charge service. *hierarchy.Service,
// *eligibility.Service, *revenue.Service and the stores satisfy them.
type Deps struct {
	Store     ChargeStore
	Shares    ShareReader
	Chains    ChainSource
	VIPs      VIPRegistry
	Discounts DiscountRegistry
	Revenue   Distributor
	Logger    *zap.Logger
}

type Options struct {
	Defaults hierarchy.PricingConfig
	Location *time.Location
	Currency string
}

type Service struct {
	store     ChargeStore
	shares    ShareReader
	chains    ChainSource
	vips      VIPRegistry
	discounts DiscountRegistry
	revenue   Distributor
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		store:     deps.Store,
		shares:    deps.Shares,
		chains:    deps.Chains,
		vips:      deps.VIPs,
		discounts: deps.Discounts,
		revenue:   deps.Revenue,
		logger:    deps.Logger,
		opts:      opts,
		now:       time.Now,
	}
}

func validateEvent(ev BookingEvent) error {
	switch {
	case ev.BookingID == "":
		return fmt.Errorf("%w: bookingId is required", ErrInvalidEvent)
	case ev.SpotID == "":
		return fmt.Errorf("%w: spotId is required", ErrInvalidEvent)
	case ev.UserID == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	case ev.Start.IsZero() || ev.End.IsZero():
		return fmt.Errorf("%w: session start and end are required", ErrInvalidEvent)
	case ev.End.Before(ev.Start):
		return fmt.Errorf("%w: %v", ErrInvalidEvent, ErrInvalidInterval)
	}
	return nil
}

// ComputeCharge prices a booking event and records it with its revenue shares.
// A repeat of the same (bookingId, eventType) returns the stored record.
func (s *Service) ComputeCharge(ctx context.Context, ev BookingEvent) (ChargeRecord, error) {
	if ev.EventType == "" {
		ev.EventType = EventCheckout
	}
	if err := validateEvent(ev); err != nil {
		return ChargeRecord{}, err
	}
	if existing, err := s.store.GetByBooking(ctx, ev.BookingID, ev.EventType); err == nil {
		return *existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return ChargeRecord{}, err
	}

	now := s.now()
	log := s.logger.With(zap.String("booking_id", string(ev.BookingID)), zap.String("event_type", ev.EventType))

	chain, err := s.chains.Chain(ctx, ev.SpotID, now)
	if err != nil {
		return ChargeRecord{}, err
	}
	resolved, err := Resolve(chain, s.opts.Defaults)
	if err != nil {
		return ChargeRecord{}, err
	}

	assignments, err := s.vips.GetActiveAssignments(ctx, ev.UserID, ev.Start)
	if err != nil {
		return ChargeRecord{}, fmt.Errorf("load vip assignments: %w", err)
	}
	vip := ApplyVIP(assignments, ev.SpotID, ev.Start, ev.End)
	if ev.ClaimedVIP && !vip.Free() {
		log.Warn("eligibility claim refused", zap.Error(&EligibilityError{UserID: ev.UserID, Claim: "vip", Reason: "no active assignment covers this spot"}))
	}

	var items []LineItem
	pricedFrom := ev.Start
	var vipApplied *VIPApplied
	if vip.Free() {
		free := vipLineItem(vip, ev.Start)
		items = append(items, free)
		pricedFrom = vip.FreeUntil
		vipApplied = &VIPApplied{AssignmentID: vip.Assignment.ID, Type: vip.Assignment.Type, FreeSeconds: free.Seconds}
	}
	priced, err := CalculateRate(resolved.Config, RateInput{
		Start:       pricedFrom,
		End:         ev.End,
		VehicleType: ev.VehicleType,
		Occupancy:   ev.Occupancy,
		Location:    s.opts.Location,
	})
	if err != nil {
		return ChargeRecord{}, err
	}
	items = append(items, priced...)
	subtotal := SumItems(items)

	snap, err := s.discounts.GetEligibleRules(ctx, ev.UserID, resolved.OperatorID)
	if err != nil {
		return ChargeRecord{}, fmt.Errorf("load discount rules: %w", err)
	}
	discount := SelectDiscount(ev.UserID, snap, ev.Claims)
	for _, refused := range discount.Refused {
		log.Warn("eligibility claim refused", zap.Error(refused))
	}
	tax := ApplyDiscountAndVAT(subtotal, discount.Rule, resolved.Config.VATRate)

	rec := ChargeRecord{
		ID:               types.NewID(),
		BookingID:        ev.BookingID,
		EventType:        ev.EventType,
		SpotID:           ev.SpotID,
		UserID:           ev.UserID,
		OperatorID:       resolved.OperatorID,
		HostID:           resolved.HostID,
		ParkingType:      resolved.ParkingType,
		VehicleType:      ev.VehicleType,
		SessionStart:     ev.Start,
		SessionEnd:       ev.End,
		Snapshot:         resolved,
		Items:            items,
		VIP:              vipApplied,
		Subtotal:         subtotal,
		Discount:         tax.Discount,
		DiscountedAmount: tax.DiscountedAmount,
		VATRate:          tax.VATRate,
		VATExempt:        tax.VATExempt,
		VATAmount:        tax.VATAmount,
		TotalAmount:      tax.TotalAmount,
		Currency:         s.opts.Currency,
		CreatedAt:        now,
	}

	shares, err := s.distribute(ctx, &rec)
	if err != nil {
		return ChargeRecord{}, err
	}
	return s.append(ctx, log, &rec, shares)
}

// distribute splits the record's base. Configuration and distribution problems
// flag the record for review instead of failing it.
func (s *Service) distribute(ctx context.Context, rec *ChargeRecord) ([]revenue.Share, error) {
	shares, err := s.revenue.Distribute(ctx, revenue.Input{
		ChargeID:    rec.ID,
		Base:        rec.DistributableBase(),
		Currency:    rec.Currency,
		OperatorID:  rec.OperatorID,
		HostID:      rec.HostID,
		ParkingType: rec.ParkingType,
		CreatedAt:   rec.CreatedAt,
	})
	switch {
	case err == nil:
		return shares, nil
	case errors.Is(err, revenue.ErrDistribution), errors.Is(err, hierarchy.ErrConfiguration):
		rec.ReviewReason = err.Error()
		s.logger.Warn("charge flagged for review",
			zap.String("charge_id", string(rec.ID)),
			zap.String("operator_id", string(rec.OperatorID)),
			zap.Error(err),
		)
		return nil, nil
	default:
		return nil, err
	}
}

func (s *Service) append(ctx context.Context, log *zap.Logger, rec *ChargeRecord, shares []revenue.Share) (ChargeRecord, error) {
	err := s.store.Append(ctx, rec, shares)
	if errors.Is(err, ErrDuplicateCharge) {
		// Lost a race with a concurrent request for the same event.
		existing, getErr := s.store.GetByBooking(ctx, rec.BookingID, rec.EventType)
		if getErr != nil {
			return ChargeRecord{}, getErr
		}
		return *existing, nil
	}
	if err != nil {
		return ChargeRecord{}, err
	}
	log.Info("charge recorded",
		zap.String("charge_id", string(rec.ID)),
		zap.Int64("total", rec.TotalAmount),
		zap.Int64("vat", rec.VATAmount),
		zap.Int("shares", len(shares)),
	)
	return *rec, nil
}

func (s *Service) GetChargeBreakdown(ctx context.Context, chargeID types.ID) (Breakdown, error) {
	rec, err := s.store.Get(ctx, chargeID)
	if err != nil {
		return Breakdown{}, err
	}
	shares, err := s.shares.SharesForCharge(ctx, chargeID)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{Charge: *rec, Shares: shares}, nil
}

// Compensate appends a record that negates chargeID and its shares. The
// original stays untouched; compensating twice returns the first compensation.
func (s *Service) Compensate(ctx context.Context, chargeID types.ID, reason string) (ChargeRecord, error) {
	orig, err := s.store.Get(ctx, chargeID)
	if err != nil {
		return ChargeRecord{}, err
	}
	if orig.CompensatesID != nil {
		return ChargeRecord{}, fmt.Errorf("%w: %s is itself a compensation", ErrInvalidEvent, chargeID)
	}
	eventType := compensationEvent + string(orig.ID)
	if existing, err := s.store.GetByBooking(ctx, orig.BookingID, eventType); err == nil {
		return *existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return ChargeRecord{}, err
	}
	origShares, err := s.shares.SharesForCharge(ctx, chargeID)
	if err != nil {
		return ChargeRecord{}, err
	}

	rec := *orig
	rec.ID = types.NewID()
	rec.EventType = eventType
	rec.CompensatesID = &orig.ID
	rec.Note = reason
	rec.CreatedAt = s.now()
	rec.Items = negateItems(orig.Items)
	rec.Subtotal = -orig.Subtotal
	rec.DiscountedAmount = -orig.DiscountedAmount
	rec.VATAmount = -orig.VATAmount
	rec.TotalAmount = -orig.TotalAmount
	if orig.Discount != nil {
		d := *orig.Discount
		d.AmountSaved = -d.AmountSaved
		rec.Discount = &d
	}

	shares := make([]revenue.Share, len(origShares))
	for i, sh := range origShares {
		shares[i] = revenue.Share{
			ID:             types.NewID(),
			ChargeRecordID: rec.ID,
			RecipientID:    sh.RecipientID,
			Role:           sh.Role,
			Amount:         -sh.Amount,
			Currency:       sh.Currency,
			Position:       i,
			CreatedAt:      rec.CreatedAt,
		}
	}
	log := s.logger.With(zap.String("booking_id", string(rec.BookingID)), zap.String("compensates", string(orig.ID)))
	return s.append(ctx, log, &rec, shares)
}

func negateItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	for i, it := range items {
		it.Amount = -it.Amount
		out[i] = it
	}
	return out
}
