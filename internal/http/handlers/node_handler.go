// README: Hierarchy handlers: create nodes and write per-node pricing overrides.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parkangel/internal/http/middleware"
	"parkangel/internal/infra"
	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/types"
)

type NodeService interface {
	CreateNode(ctx context.Context, cmd hierarchy.CreateNodeCommand) (types.ID, error)
	PutConfig(ctx context.Context, nodeID types.ID, cfg hierarchy.PricingConfig) (int, error)
	OperatorOf(ctx context.Context, nodeID types.ID) (types.ID, error)
}

type NodeHandler struct {
	nodes NodeService
}

func NewNodeHandler(svc NodeService) *NodeHandler {
	return &NodeHandler{nodes: svc}
}

type createNodeReq struct {
	Type        string `json:"type" binding:"required"`
	ParentID    string `json:"parentId"`
	Name        string `json:"name" binding:"required"`
	OperatorID  string `json:"operatorId"`
	HostID      string `json:"hostId"`
	ParkingType string `json:"parkingType"`
}

// Amounts are major-unit strings ("50.00"), rates and thresholds percentages
// ("12.5") and multipliers plain factors ("1.5").
type pricingConfigReq struct {
	BaseRate         *string                   `json:"baseRate"`
	VehicleTypeRates map[string]vehicleRateReq `json:"vehicleTypeRates"`
	TimeBasedRates   []timeRateReq             `json:"timeBasedRates"`
	HolidayRates     []holidayRateReq          `json:"holidayRates"`
	OccupancyCurve   []occupancyStepReq        `json:"occupancyCurve"`
	VATRate          *string                   `json:"vatRate"`
}

type vehicleRateReq struct {
	Kind       string `json:"kind"`
	Rate       string `json:"rate"`
	Multiplier string `json:"multiplier"`
}

type timeRateReq struct {
	Kind      string         `json:"kind"`
	Label     string         `json:"label"`
	Days      []time.Weekday `json:"days"`
	StartHour int            `json:"startHour"`
	EndHour   int            `json:"endHour"`
	Rate      string         `json:"rate"`
}

type holidayRateReq struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Date  string `json:"date"`
	Month int    `json:"month"`
	Day   int    `json:"day"`
	Rate  string `json:"rate"`
}

type occupancyStepReq struct {
	Above      string `json:"above"`
	Multiplier string `json:"multiplier"`
}

func (h *NodeHandler) Create(c *gin.Context) {
	var req createNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := hierarchy.CreateNodeCommand{
		Type:        hierarchy.NodeType(req.Type),
		Name:        req.Name,
		OperatorID:  types.ID(req.OperatorID),
		HostID:      types.ID(req.HostID),
		ParkingType: hierarchy.ParkingType(req.ParkingType),
	}
	if req.ParentID != "" {
		if !isValidID(req.ParentID) {
			writeError(c, http.StatusBadRequest, "invalid parentId")
			return
		}
		parent := types.ID(req.ParentID)
		cmd.ParentID = &parent
	}
	id, err := h.nodes.CreateNode(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"id": id})
}

// PutPricing stores a new config version. Operators may only edit their own nodes.
func (h *NodeHandler) PutPricing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req pricingConfigReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		writeDomainError(c, err)
		return
	}

	if !middleware.HasRole(c, infra.RoleAdmin) {
		owner, err := h.nodes.OperatorOf(c.Request.Context(), id)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		if owner == "" || string(owner) != middleware.CallerOperatorID(c) {
			writeError(c, http.StatusForbidden, "node belongs to another operator")
			return
		}
	}

	version, err := h.nodes.PutConfig(c.Request.Context(), id, cfg)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"nodeId": id, "version": version})
}

func (r pricingConfigReq) toConfig() (hierarchy.PricingConfig, error) {
	var cfg hierarchy.PricingConfig
	var err error
	if cfg.BaseRate, err = optionalAmount(r.BaseRate); err != nil {
		return cfg, fieldError("baseRate", err)
	}
	if cfg.VATRate, err = optionalPercent(r.VATRate); err != nil {
		return cfg, fieldError("vatRate", err)
	}

	if r.VehicleTypeRates != nil {
		cfg.VehicleTypeRates = make(map[string]hierarchy.VehicleRate, len(r.VehicleTypeRates))
		for vt, v := range r.VehicleTypeRates {
			path := "vehicleTypeRates." + vt
			rate := hierarchy.VehicleRate{Kind: hierarchy.VehicleRateKind(v.Kind)}
			switch rate.Kind {
			case hierarchy.VehicleOverride:
				if rate.Rate, err = types.ParseAmount(v.Rate); err != nil {
					return cfg, fieldError(path+".rate", err)
				}
			case hierarchy.VehicleMultiplier:
				if rate.Multiplier, err = types.ParseMultiplier(v.Multiplier); err != nil {
					return cfg, fieldError(path+".multiplier", err)
				}
			default:
				return cfg, &hierarchy.ConfigurationError{Path: path + ".kind", Reason: "unknown kind " + v.Kind}
			}
			cfg.VehicleTypeRates[vt] = rate
		}
	}

	if r.TimeBasedRates != nil {
		cfg.TimeBasedRates = make([]hierarchy.TimeBasedRate, 0, len(r.TimeBasedRates))
		for i, t := range r.TimeBasedRates {
			path := fmt.Sprintf("timeBasedRates[%d]", i)
			amt, err := types.ParseAmount(t.Rate)
			if err != nil {
				return cfg, fieldError(path+".rate", err)
			}
			cfg.TimeBasedRates = append(cfg.TimeBasedRates, hierarchy.TimeBasedRate{
				Kind:      hierarchy.TimeRateKind(t.Kind),
				Label:     t.Label,
				Days:      t.Days,
				StartHour: t.StartHour,
				EndHour:   t.EndHour,
				Rate:      amt,
			})
		}
	}

	if r.HolidayRates != nil {
		cfg.HolidayRates = make([]hierarchy.HolidayRate, 0, len(r.HolidayRates))
		for i, hr := range r.HolidayRates {
			path := fmt.Sprintf("holidayRates[%d]", i)
			amt, err := types.ParseAmount(hr.Rate)
			if err != nil {
				return cfg, fieldError(path+".rate", err)
			}
			cfg.HolidayRates = append(cfg.HolidayRates, hierarchy.HolidayRate{
				Kind:  hierarchy.HolidayKind(hr.Kind),
				Name:  hr.Name,
				Date:  hr.Date,
				Month: time.Month(hr.Month),
				Day:   hr.Day,
				Rate:  amt,
			})
		}
	}

	if r.OccupancyCurve != nil {
		cfg.OccupancyCurve = make([]hierarchy.OccupancyStep, 0, len(r.OccupancyCurve))
		for i, s := range r.OccupancyCurve {
			path := fmt.Sprintf("occupancyCurve[%d]", i)
			above, err := types.ParsePercent(s.Above)
			if err != nil {
				return cfg, fieldError(path+".above", err)
			}
			m, err := types.ParseMultiplier(s.Multiplier)
			if err != nil {
				return cfg, fieldError(path+".multiplier", err)
			}
			cfg.OccupancyCurve = append(cfg.OccupancyCurve, hierarchy.OccupancyStep{Above: above, Multiplier: m})
		}
	}
	return cfg, nil
}

func fieldError(path string, err error) error {
	return &hierarchy.ConfigurationError{Path: path, Reason: err.Error()}
}
