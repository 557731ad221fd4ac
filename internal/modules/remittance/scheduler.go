// README: Remittance ticker; enqueues due recipients, then reconciles and retries.
package remittance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

type SchedulerOptions struct {
	Interval       time.Duration
	PeriodDays     int
	Location       *time.Location
	ReconcileAfter time.Duration
	// Lookback is how many closed periods each tick scans for unclaimed shares.
	Lookback int
}

type Scheduler struct {
	svc    *Service
	queue  Enqueuer
	opts   SchedulerOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewScheduler builds the ticker. With a nil queue jobs run inline.
func NewScheduler(svc *Service, queue Enqueuer, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.PeriodDays <= 0 {
		opts.PeriodDays = 7
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 1
	}
	return &Scheduler{svc: svc, queue: queue, opts: opts, logger: logger, now: time.Now}
}

// Tick does one scheduling pass and reports how many jobs it dispatched.
// Reconcile and retry run first so requeued remittances go out in the same tick.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	rec, err := s.svc.Reconcile(ctx, s.opts.ReconcileAfter)
	if err != nil {
		s.logger.Warn("reconcile pass incomplete", zap.Error(err))
	}
	retry, err := s.svc.RetryFailed(ctx)
	if err != nil {
		s.logger.Warn("retry pass incomplete", zap.Error(err))
	}

	var jobs []Job
	seen := make(map[string]bool)
	add := func(job Job) {
		key := string(job.RecipientID) + "|" + job.Period().String()
		if !seen[key] {
			seen[key] = true
			jobs = append(jobs, job)
		}
	}
	pending, err := s.svc.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range pending {
		add(Job{RecipientID: r.RecipientID, PeriodStart: r.PeriodStart, PeriodEnd: r.PeriodEnd})
	}
	p := LastClosedPeriod(s.now(), s.opts.PeriodDays, s.opts.Location)
	for i := 0; i < s.opts.Lookback; i++ {
		recipients, err := s.svc.RecipientsDue(ctx, p)
		if err != nil {
			return 0, err
		}
		for _, rid := range recipients {
			add(Job{RecipientID: rid, PeriodStart: p.Start, PeriodEnd: p.End})
		}
		p = PeriodContaining(p.Start.Add(-time.Nanosecond), s.opts.PeriodDays, s.opts.Location)
	}

	dispatched := 0
	for _, job := range jobs {
		if s.queue == nil {
			if err := s.svc.HandleJob(ctx, job); err != nil {
				s.logger.Warn("remittance job failed", zap.String("recipient_id", string(job.RecipientID)), zap.Error(err))
			}
		} else if err := s.queue.Enqueue(ctx, job); err != nil {
			return dispatched, err
		}
		dispatched++
	}

	if dispatched > 0 || rec.Checked > 0 || retry.Requeued+retry.Escalated > 0 {
		s.logger.Info("remittance tick",
			zap.Int("dispatched", dispatched),
			zap.Int("reconciled", rec.Completed+rec.Failed+rec.Abandoned),
			zap.Int("unknown", rec.Unknown),
			zap.Int("requeued", retry.Requeued),
			zap.Int("escalated", retry.Escalated),
		)
	}
	return dispatched, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("remittance tick failed", zap.Error(err))
			}
		}
	}
}
