// README: Remittance handlers: run, process, release, reconcile and payout accounts.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parkangel/internal/http/middleware"
	"parkangel/internal/modules/remittance"
	"parkangel/internal/types"
)

type RemittanceService interface {
	Get(ctx context.Context, id types.ID) (*remittance.Remittance, error)
	Run(ctx context.Context, recipientID types.ID, p remittance.Period) (*remittance.Remittance, error)
	Process(ctx context.Context, id types.ID) (*remittance.Remittance, error)
	Release(ctx context.Context, id types.ID, actor string) (*remittance.Remittance, error)
	Reconcile(ctx context.Context, olderThan time.Duration) (remittance.ReconcileResult, error)
	PutPayoutAccount(ctx context.Context, recipientID types.ID, account string) error
}

// PeriodPolicy derives the default period for a run request.
type PeriodPolicy struct {
	Days     int
	Location *time.Location
	Now      func() time.Time
}

type RemittanceHandler struct {
	remittances RemittanceService
	periods     PeriodPolicy
}

func NewRemittanceHandler(svc RemittanceService, periods PeriodPolicy) *RemittanceHandler {
	if periods.Now == nil {
		periods.Now = time.Now
	}
	if periods.Location == nil {
		periods.Location = time.UTC
	}
	return &RemittanceHandler{remittances: svc, periods: periods}
}

// Without periodStart/periodEnd the last closed period is used.
type runRemittanceReq struct {
	RecipientID string     `json:"recipientId" binding:"required"`
	PeriodStart *time.Time `json:"periodStart"`
	PeriodEnd   *time.Time `json:"periodEnd"`
}

type reconcileReq struct {
	OlderThanSeconds int `json:"olderThanSeconds"`
}

type payoutAccountReq struct {
	Account string `json:"account" binding:"required"`
}

type remittanceView struct {
	ID                 types.ID          `json:"id"`
	RecipientID        types.ID          `json:"recipientId"`
	PeriodStart        time.Time         `json:"periodStart"`
	PeriodEnd          time.Time         `json:"periodEnd"`
	Sequence           int               `json:"sequence"`
	TotalShare         string            `json:"totalShare"`
	PreviouslyReserved string            `json:"previouslyReserved"`
	Payable            string            `json:"payable"`
	Currency           string            `json:"currency"`
	Status             remittance.Status `json:"status"`
	Attempts           int               `json:"attempts"`
	TransferID         string            `json:"transferId,omitempty"`
	LastError          string            `json:"lastError,omitempty"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

func toRemittanceView(r *remittance.Remittance) remittanceView {
	return remittanceView{
		ID:                 r.ID,
		RecipientID:        r.RecipientID,
		PeriodStart:        r.PeriodStart,
		PeriodEnd:          r.PeriodEnd,
		Sequence:           r.Sequence,
		TotalShare:         types.FormatAmount(r.TotalShare),
		PreviouslyReserved: types.FormatAmount(r.PreviouslyReserved),
		Payable:            types.FormatAmount(r.Payable),
		Currency:           r.Currency,
		Status:             r.Status,
		Attempts:           r.Attempts,
		TransferID:         r.TransferID,
		LastError:          r.LastError,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (h *RemittanceHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.remittances.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRemittanceView(r))
}

func (h *RemittanceHandler) Run(c *gin.Context) {
	var req runRemittanceReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RecipientID) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	var p remittance.Period
	switch {
	case req.PeriodStart == nil && req.PeriodEnd == nil:
		p = remittance.LastClosedPeriod(h.periods.Now(), h.periods.Days, h.periods.Location)
	case req.PeriodStart != nil && req.PeriodEnd != nil:
		p = remittance.Period{Start: *req.PeriodStart, End: *req.PeriodEnd}
	default:
		writeError(c, http.StatusBadRequest, "periodStart and periodEnd go together")
		return
	}
	r, err := h.remittances.Run(c.Request.Context(), types.ID(req.RecipientID), p)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRemittanceView(r))
}

// Process answers 202 when the transfer outcome is still unknown.
func (h *RemittanceHandler) Process(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.remittances.Process(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	status := http.StatusOK
	if r.Status == remittance.StatusProcessing {
		status = http.StatusAccepted
	}
	writeJSON(c, status, toRemittanceView(r))
}

func (h *RemittanceHandler) Release(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.remittances.Release(c.Request.Context(), id, middleware.CallerRole(c)+":"+middleware.CallerUID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRemittanceView(r))
}

func (h *RemittanceHandler) Reconcile(c *gin.Context) {
	var req reconcileReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil || req.OlderThanSeconds < 0 {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	res, err := h.remittances.Reconcile(c.Request.Context(), time.Duration(req.OlderThanSeconds)*time.Second)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"checked":   res.Checked,
		"completed": res.Completed,
		"failed":    res.Failed,
		"unknown":   res.Unknown,
		"abandoned": res.Abandoned,
	})
}

func (h *RemittanceHandler) PutPayoutAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req payoutAccountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "account is required")
		return
	}
	if err := h.remittances.PutPayoutAccount(c.Request.Context(), id, req.Account); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
