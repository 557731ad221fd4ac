// README: Eligibility handlers: VIP grants, discount rules and verified claims.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parkangel/internal/http/middleware"
	"parkangel/internal/infra"
	"parkangel/internal/modules/eligibility"
	"parkangel/internal/types"
)

type EligibilityService interface {
	AssignVIP(ctx context.Context, a eligibility.VIPAssignment) (types.ID, error)
	RevokeVIP(ctx context.Context, id types.ID) error
	PutDiscountRule(ctx context.Context, r eligibility.DiscountRule) (types.ID, error)
	RecordClaim(ctx context.Context, r eligibility.Record) error
}

type EligibilityHandler struct {
	eligibility EligibilityService
}

func NewEligibilityHandler(svc EligibilityService) *EligibilityHandler {
	return &EligibilityHandler{eligibility: svc}
}

type assignVIPReq struct {
	UserID         string     `json:"userId" binding:"required"`
	Type           string     `json:"type" binding:"required"`
	AssignedSpots  []string   `json:"assignedSpots"`
	TimeLimitHours *int       `json:"timeLimitHours"`
	ValidFrom      time.Time  `json:"validFrom" binding:"required"`
	ValidUntil     *time.Time `json:"validUntil"`
}

type discountRuleReq struct {
	Name        string                `json:"name" binding:"required"`
	OperatorID  string                `json:"operatorId" binding:"required"`
	Percentage  string                `json:"percentage" binding:"required"`
	VATExempt   bool                  `json:"vatExempt"`
	Eligibility eligibility.Predicate `json:"eligibility"`
}

type claimReq struct {
	UserID   string `json:"userId" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	Tag      string `json:"tag"`
	Verified bool   `json:"verified"`
}

func (h *EligibilityHandler) AssignVIP(c *gin.Context) {
	var req assignVIPReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	a := eligibility.VIPAssignment{
		UserID:         types.ID(req.UserID),
		Type:           eligibility.VIPType(req.Type),
		TimeLimitHours: req.TimeLimitHours,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		IsActive:       true,
	}
	for _, sp := range req.AssignedSpots {
		a.AssignedSpots = append(a.AssignedSpots, types.ID(sp))
	}
	id, err := h.eligibility.AssignVIP(c.Request.Context(), a)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"id": id})
}

func (h *EligibilityHandler) RevokeVIP(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.eligibility.RevokeVIP(c.Request.Context(), id); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutDiscountRule lets operators add rules for their own operator id only.
func (h *EligibilityHandler) PutDiscountRule(c *gin.Context) {
	var req discountRuleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !middleware.HasRole(c, infra.RoleAdmin) && req.OperatorID != middleware.CallerOperatorID(c) {
		writeError(c, http.StatusForbidden, "rule belongs to another operator")
		return
	}
	pct, err := types.ParsePercent(req.Percentage)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.eligibility.PutDiscountRule(c.Request.Context(), eligibility.DiscountRule{
		Name:        req.Name,
		OperatorID:  types.ID(req.OperatorID),
		Percentage:  pct,
		VATExempt:   req.VATExempt,
		Eligibility: req.Eligibility,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"id": id})
}

func (h *EligibilityHandler) RecordClaim(c *gin.Context) {
	var req claimReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.eligibility.RecordClaim(c.Request.Context(), eligibility.Record{
		UserID:   types.ID(req.UserID),
		Kind:     eligibility.Kind(req.Kind),
		Tag:      req.Tag,
		Verified: req.Verified,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
