// README: Base handler utilities (JSON helpers, error mapping, money formatting).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"parkangel/internal/modules/eligibility"
	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/modules/pricing"
	"parkangel/internal/modules/remittance"
	"parkangel/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Path  string `json:"path,omitempty"`
}

// isValidID accepts uuid-style and slug ids: letters, digits, '-' and '_'.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps module errors onto status codes in one place.
func writeDomainError(c *gin.Context, err error) {
	_ = c.Error(err)

	var cfgErr *hierarchy.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{Error: cfgErr.Error(), Path: cfgErr.Path})
		return
	}
	var transferErr *remittance.TransferError
	if errors.As(err, &transferErr) {
		writeError(c, http.StatusBadGateway, transferErr.Error())
		return
	}

	switch {
	case errors.Is(err, pricing.ErrInvalidEvent),
		errors.Is(err, hierarchy.ErrBadRequest),
		errors.Is(err, hierarchy.ErrBadParent),
		errors.Is(err, eligibility.ErrInvalidAssignment),
		errors.Is(err, eligibility.ErrInvalidRule),
		errors.Is(err, remittance.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, pricing.ErrNotFound),
		errors.Is(err, hierarchy.ErrNotFound),
		errors.Is(err, eligibility.ErrNotFound),
		errors.Is(err, remittance.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, remittance.ErrNothingToRemit),
		errors.Is(err, remittance.ErrNoPayoutAccount):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, remittance.ErrInvalidState),
		errors.Is(err, remittance.ErrConflict),
		errors.Is(err, pricing.ErrDuplicateCharge):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, remittance.ErrLockTimeout):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads and validates the :id route parameter.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

// optionalAmount parses a major-unit amount, leaving nil when absent.
func optionalAmount(s *string) (*int64, error) {
	if s == nil {
		return nil, nil
	}
	v, err := types.ParseAmount(*s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalPercent(s *string) (*types.BasisPoints, error) {
	if s == nil {
		return nil, nil
	}
	v, err := types.ParsePercent(*s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
