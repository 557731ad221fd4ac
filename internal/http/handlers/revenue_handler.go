// README: Revenue-share config handlers.
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/modules/revenue"
	"parkangel/internal/types"
)

type RevenueService interface {
	PutConfig(ctx context.Context, cfg revenue.ShareConfig) error
	ConfigFor(ctx context.Context, operatorID types.ID, parkingType hierarchy.ParkingType) (revenue.ShareConfig, error)
}

type RevenueHandler struct {
	revenue RevenueService
}

func NewRevenueHandler(svc RevenueService) *RevenueHandler {
	return &RevenueHandler{revenue: svc}
}

type splitReq struct {
	Role       string `json:"role"`
	Percentage string `json:"percentage"`
}

// Key is an operator id, or hosted-default for hosted parking.
type revenueConfigReq struct {
	Key         string     `json:"key" binding:"required"`
	ParkingType string     `json:"parkingType" binding:"required"`
	Splits      []splitReq `json:"splits" binding:"required"`
}

type splitView struct {
	Role       revenue.Role `json:"role"`
	Percentage string       `json:"percentage"`
}

func (h *RevenueHandler) Put(c *gin.Context) {
	var req revenueConfigReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cfg := revenue.ShareConfig{Key: req.Key, ParkingType: hierarchy.ParkingType(req.ParkingType)}
	for i, s := range req.Splits {
		pct, err := types.ParsePercent(s.Percentage)
		if err != nil {
			writeDomainError(c, fieldError(fmt.Sprintf("splits[%d].percentage", i), err))
			return
		}
		cfg.Splits = append(cfg.Splits, revenue.Split{Role: revenue.Role(s.Role), Percentage: pct})
	}
	if err := h.revenue.PutConfig(c.Request.Context(), cfg); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"key": cfg.Key, "parkingType": cfg.ParkingType})
}

// Get shows the split that applies to an operator and parking type, including
// the hosted default.
func (h *RevenueHandler) Get(c *gin.Context) {
	operatorID := c.Query("operatorId")
	parkingType := hierarchy.ParkingType(c.Query("parkingType"))
	if !parkingType.Valid() || (parkingType != hierarchy.ParkingHosted && !isValidID(operatorID)) {
		writeError(c, http.StatusBadRequest, "operatorId and parkingType are required")
		return
	}
	cfg, err := h.revenue.ConfigFor(c.Request.Context(), types.ID(operatorID), parkingType)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	splits := make([]splitView, 0, len(cfg.Splits))
	for _, s := range cfg.Splits {
		splits = append(splits, splitView{Role: s.Role, Percentage: s.Percentage.String()})
	}
	writeJSON(c, http.StatusOK, map[string]any{"key": cfg.Key, "parkingType": cfg.ParkingType, "splits": splits})
}
