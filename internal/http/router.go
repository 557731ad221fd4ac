// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"parkangel/internal/http/handlers"
	"parkangel/internal/http/middleware"
	"parkangel/internal/infra"
)

// NewRouter builds the gin engine. Every /api route requires a Firebase token;
// role groups narrow access further.
func NewRouter(deps ServerDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	admin := api.Group("", middleware.RequireRole(infra.RoleAdmin))
	staff := api.Group("", middleware.RequireRole(infra.RoleAdmin, infra.RoleOperator))
	backend := api.Group("", middleware.RequireRole(infra.RoleAdmin, infra.RoleSystem))

	charges := handlers.NewChargeHandler(deps.Pricing)
	backend.POST("/charges", charges.Compute)
	api.GET("/charges/:id/breakdown", charges.Breakdown)
	admin.POST("/charges/:id/compensate", charges.Compensate)

	nodes := handlers.NewNodeHandler(deps.Hierarchy)
	admin.POST("/nodes", nodes.Create)
	staff.PUT("/nodes/:id/pricing", nodes.PutPricing)

	rev := handlers.NewRevenueHandler(deps.Revenue)
	admin.PUT("/revenue-configs", rev.Put)
	staff.GET("/revenue-configs", rev.Get)

	elig := handlers.NewEligibilityHandler(deps.Eligibility)
	admin.POST("/vip-assignments", elig.AssignVIP)
	admin.DELETE("/vip-assignments/:id", elig.RevokeVIP)
	staff.POST("/discount-rules", elig.PutDiscountRule)
	admin.PUT("/eligibility-records", elig.RecordClaim)

	rem := handlers.NewRemittanceHandler(deps.Remittance, deps.Periods)
	backend.POST("/remittances/run", rem.Run)
	backend.POST("/remittances/reconcile", rem.Reconcile)
	backend.POST("/remittances/:id/process", rem.Process)
	admin.POST("/remittances/:id/release", rem.Release)
	backend.GET("/remittances/:id", rem.Get)
	admin.PUT("/payout-accounts/:id", rem.PutPayoutAccount)

	return r
}
