// Package worker drives the billing passes on a cron schedule.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vpn-billing/internal/billing"
	"vpn-billing/internal/config"
	"vpn-billing/internal/logger"
)

const defaultInterval = 30 * time.Minute

// Billing is the pair of batch passes run on every tick.
type Billing interface {
	ProcessDailyCharges(ctx context.Context) (billing.ChargeStats, error)
	ProcessTrafficResets(ctx context.Context) (billing.ResetStats, error)
}

type Scheduler struct {
	billing Billing
	cfg     config.BillingConfig
	log     *logger.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewScheduler(b Billing, cfg config.BillingConfig, log *logger.Logger) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultInterval
	}
	return &Scheduler{
		billing: b,
		cfg:     cfg,
		log:     log.With("component", "scheduler"),
	}
}

// StartMonitoring schedules the passes and runs them once right away.
// A tick that overlaps a still-running one is skipped. Calling it twice is a no-op.
func (s *Scheduler) StartMonitoring(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := s.log.CronLogger()
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		s.RunOnce(ctx)
	}))

	c := cron.New(cron.WithLogger(cl))
	c.Schedule(cron.Every(s.cfg.CheckInterval), job)
	c.Start()
	go job.Run()

	s.cron = c
	s.cancel = cancel
	s.log.Infow("Billing monitoring started", "interval", s.cfg.CheckInterval.String(), "daily_enabled", s.cfg.DailyEnabled)
}

// StopMonitoring stops scheduling and waits for a running pass to finish.
func (s *Scheduler) StopMonitoring() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	cancel()
	<-c.Stop().Done()
	s.log.Infow("Billing monitoring stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// RunOnce runs one tick: the daily charge pass when enabled, then traffic expiry.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.cfg.DailyEnabled {
		stats, err := s.billing.ProcessDailyCharges(ctx)
		if err != nil {
			s.log.Errorw("Daily charge pass failed", "error", err)
		} else {
			s.log.Infow("Daily charge pass finished",
				"checked", stats.Checked, "charged", stats.Charged, "suspended", stats.Suspended, "errors", stats.Errors)
		}
	}

	stats, err := s.billing.ProcessTrafficResets(ctx)
	if err != nil {
		s.log.Errorw("Traffic reset pass failed", "error", err)
		return
	}
	s.log.Infow("Traffic reset pass finished", "checked", stats.Checked, "reset", stats.Reset, "errors", stats.Errors)
}
