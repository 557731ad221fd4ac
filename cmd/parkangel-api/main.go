// README: Entry point; loads config, wires services, starts HTTP server, remittance workers and scheduler.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"parkangel/internal/config"
	httptransport "parkangel/internal/http"
	"parkangel/internal/http/handlers"
	"parkangel/internal/infra"
	"parkangel/internal/modules/eligibility"
	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/modules/pricing"
	"parkangel/internal/modules/remittance"
	"parkangel/internal/modules/revenue"
	"parkangel/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		logger.Fatal("PARKANGEL_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Fatal("firebase init", zap.Error(err))
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("postgres init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		logger.Fatal("redis init", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	gateway, err := remittance.NewStripeGateway(cfg.Stripe.APIKey, nil, logger)
	if err != nil {
		logger.Fatal("stripe init", zap.Error(err))
	}

	// Validated by config.Load.
	loc, _ := time.LoadLocation(cfg.Pricing.Timezone)

	hierarchySvc := hierarchy.NewService(hierarchy.NewStore(dbPool), logger)
	eligibilitySvc := eligibility.NewService(eligibility.NewStore(dbPool), logger)
	revenueStore := revenue.NewStore(dbPool)
	revenueSvc := revenue.NewService(revenueStore, types.ID(cfg.Pricing.PlatformRecipientID), logger)

	defaults := hierarchy.PricingConfig{}
	if cfg.Pricing.DefaultBaseRate > 0 {
		base := cfg.Pricing.DefaultBaseRate
		defaults.BaseRate = &base
	}
	vat := types.BasisPoints(cfg.Pricing.DefaultVATBP)
	defaults.VATRate = &vat

	pricingSvc := pricing.NewService(pricing.Deps{
		Store:     pricing.NewStore(dbPool),
		Shares:    revenueStore,
		Chains:    hierarchySvc,
		VIPs:      eligibilitySvc,
		Discounts: eligibilitySvc,
		Revenue:   revenueSvc,
		Logger:    logger,
	}, pricing.Options{Defaults: defaults, Location: loc, Currency: cfg.Pricing.Currency})

	remittanceSvc := remittance.NewService(
		remittance.NewStore(dbPool),
		gateway,
		remittance.NewRedisLocker(redisClient, cfg.Remittance.LockTTL),
		remittance.Options{
			Currency:        cfg.Pricing.Currency,
			TransferTimeout: cfg.Remittance.TransferTimeout,
			MaxAttempts:     cfg.Remittance.MaxAttempts,
			AbandonAfter:    cfg.Remittance.AbandonAfter,
		},
		logger,
	)
	queue := remittance.NewQueue(redisClient, cfg.Remittance.Partitions, logger)
	scheduler := remittance.NewScheduler(remittanceSvc, queue, remittance.SchedulerOptions{
		Interval:       time.Duration(cfg.Remittance.TickSeconds) * time.Second,
		PeriodDays:     cfg.Remittance.PeriodDays,
		Location:       loc,
		ReconcileAfter: cfg.Remittance.ReconcileAfter,
	}, logger)

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.ServerDeps{
		Pricing:     pricingSvc,
		Hierarchy:   hierarchySvc,
		Revenue:     revenueSvc,
		Eligibility: eligibilitySvc,
		Remittance:  remittanceSvc,
		Periods:     handlers.PeriodPolicy{Days: cfg.Remittance.PeriodDays, Location: loc},
		Verifier:    verifier,
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return queue.Run(gctx, remittanceSvc.HandleJob) })
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
