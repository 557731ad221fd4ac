// README: Charge handlers: compute a charge, read its breakdown, compensate it.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parkangel/internal/http/middleware"
	"parkangel/internal/infra"
	"parkangel/internal/modules/eligibility"
	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/modules/pricing"
	"parkangel/internal/modules/revenue"
	"parkangel/internal/types"
)

type ChargeService interface {
	ComputeCharge(ctx context.Context, ev pricing.BookingEvent) (pricing.ChargeRecord, error)
	GetChargeBreakdown(ctx context.Context, chargeID types.ID) (pricing.Breakdown, error)
	Compensate(ctx context.Context, chargeID types.ID, reason string) (pricing.ChargeRecord, error)
}

type ChargeHandler struct {
	charges ChargeService
}

func NewChargeHandler(svc ChargeService) *ChargeHandler {
	return &ChargeHandler{charges: svc}
}

type computeChargeReq struct {
	BookingID   string                  `json:"bookingId" binding:"required"`
	EventType   string                  `json:"eventType"`
	SpotID      string                  `json:"spotId" binding:"required"`
	UserID      string                  `json:"userId" binding:"required"`
	VehicleType string                  `json:"vehicleType"`
	Start       time.Time               `json:"start" binding:"required"`
	End         time.Time               `json:"end" binding:"required"`
	Occupancy   string                  `json:"occupancy"`
	Claims      []eligibility.Predicate `json:"claims"`
	ClaimedVIP  bool                    `json:"claimedVip"`
}

type compensateReq struct {
	Reason string `json:"reason" binding:"required"`
}

type chargeView struct {
	ID               types.ID                 `json:"id"`
	BookingID        types.ID                 `json:"bookingId"`
	EventType        string                   `json:"eventType"`
	SpotID           types.ID                 `json:"spotId"`
	UserID           types.ID                 `json:"userId"`
	OperatorID       types.ID                 `json:"operatorId"`
	HostID           types.ID                 `json:"hostId,omitempty"`
	ParkingType      hierarchy.ParkingType    `json:"parkingType"`
	VehicleType      string                   `json:"vehicleType,omitempty"`
	Start            time.Time                `json:"start"`
	End              time.Time                `json:"end"`
	Subtotal         string                   `json:"subtotal"`
	VIP              *pricing.VIPApplied      `json:"vip,omitempty"`
	Discount         *pricing.DiscountApplied `json:"discount,omitempty"`
	DiscountedAmount string                   `json:"discountedAmount"`
	VATRate          string                   `json:"vatRate"`
	VATExempt        bool                     `json:"vatExempt"`
	VATAmount        string                   `json:"vatAmount"`
	TotalAmount      string                   `json:"totalAmount"`
	Currency         string                   `json:"currency"`
	CompensatesID    *types.ID                `json:"compensatesId,omitempty"`
	Note             string                   `json:"note,omitempty"`
	ReviewReason     string                   `json:"reviewReason,omitempty"`
	CreatedAt        time.Time                `json:"createdAt"`
}

type shareView struct {
	ID          types.ID     `json:"id"`
	RecipientID types.ID     `json:"recipientId"`
	Role        revenue.Role `json:"role"`
	Amount      string       `json:"amount"`
	Remitted    bool         `json:"remitted"`
}

type breakdownView struct {
	Charge     chargeView       `json:"charge"`
	Items      []lineItemView   `json:"lineItems"`
	Snapshot   pricing.Resolved `json:"snapshot"`
	Shares     []shareView      `json:"shares"`
	SharesSum  string           `json:"sharesTotal"`
	Reconciles bool             `json:"reconciles"`
}

type lineItemView struct {
	pricing.LineItem
	AmountText string `json:"amountText"`
}

func toChargeView(r pricing.ChargeRecord) chargeView {
	return chargeView{
		ID:               r.ID,
		BookingID:        r.BookingID,
		EventType:        r.EventType,
		SpotID:           r.SpotID,
		UserID:           r.UserID,
		OperatorID:       r.OperatorID,
		HostID:           r.HostID,
		ParkingType:      r.ParkingType,
		VehicleType:      r.VehicleType,
		Start:            r.SessionStart,
		End:              r.SessionEnd,
		Subtotal:         types.FormatAmount(r.Subtotal),
		VIP:              r.VIP,
		Discount:         r.Discount,
		DiscountedAmount: types.FormatAmount(r.DiscountedAmount),
		VATRate:          r.VATRate.String(),
		VATExempt:        r.VATExempt,
		VATAmount:        types.FormatAmount(r.VATAmount),
		TotalAmount:      types.FormatAmount(r.TotalAmount),
		Currency:         r.Currency,
		CompensatesID:    r.CompensatesID,
		Note:             r.Note,
		ReviewReason:     r.ReviewReason,
		CreatedAt:        r.CreatedAt,
	}
}

func (h *ChargeHandler) Compute(c *gin.Context) {
	var req computeChargeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	var occupancy types.BasisPoints
	if req.Occupancy != "" {
		v, err := types.ParsePercent(req.Occupancy)
		if err != nil || v < 0 || v > types.Hundred {
			writeError(c, http.StatusBadRequest, "occupancy must be a percentage between 0 and 100")
			return
		}
		occupancy = v
	}
	rec, err := h.charges.ComputeCharge(c.Request.Context(), pricing.BookingEvent{
		BookingID:   types.ID(req.BookingID),
		EventType:   req.EventType,
		SpotID:      types.ID(req.SpotID),
		UserID:      types.ID(req.UserID),
		VehicleType: req.VehicleType,
		Start:       req.Start,
		End:         req.End,
		Occupancy:   occupancy,
		Claims:      req.Claims,
		ClaimedVIP:  req.ClaimedVIP,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toChargeView(rec))
}

// Breakdown is readable by the charged user and by staff roles.
func (h *ChargeHandler) Breakdown(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.charges.GetChargeBreakdown(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !middleware.HasRole(c, infra.RoleAdmin, infra.RoleSystem) {
		owner := middleware.CallerUID(c) == string(b.Charge.UserID)
		operator := middleware.HasRole(c, infra.RoleOperator) && middleware.CallerOperatorID(c) == string(b.Charge.OperatorID)
		if !owner && !operator {
			writeError(c, http.StatusForbidden, "forbidden")
			return
		}
	}

	view := breakdownView{
		Charge:   toChargeView(b.Charge),
		Snapshot: b.Charge.Snapshot,
		Items:    make([]lineItemView, 0, len(b.Charge.Items)),
		Shares:   make([]shareView, 0, len(b.Shares)),
	}
	for _, it := range b.Charge.Items {
		view.Items = append(view.Items, lineItemView{LineItem: it, AmountText: types.FormatAmount(it.Amount)})
	}
	var sum int64
	for _, s := range b.Shares {
		sum += s.Amount
		view.Shares = append(view.Shares, shareView{
			ID:          s.ID,
			RecipientID: s.RecipientID,
			Role:        s.Role,
			Amount:      types.FormatAmount(s.Amount),
			Remitted:    s.RemittanceID != nil,
		})
	}
	view.SharesSum = types.FormatAmount(sum)
	view.Reconciles = len(b.Shares) > 0 && sum == b.Charge.DistributableBase()
	writeJSON(c, http.StatusOK, view)
}

func (h *ChargeHandler) Compensate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req compensateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "reason is required")
		return
	}
	rec, err := h.charges.Compensate(c.Request.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toChargeView(rec))
}
