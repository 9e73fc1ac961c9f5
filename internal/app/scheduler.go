package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/weekscan/internal/models"
)

// Scheduler runs fetch+scan on a cron expression and optionally serves
// /metrics. Runs never overlap: a tick that fires while a run is still in
// progress is skipped.
type Scheduler struct {
	app     *App
	cron    *cron.Cron
	server  *http.Server
	running sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	// run is the scheduled job; replaced in tests
	run func(ctx context.Context) (*models.ScanReport, error)
}

// NewScheduler creates a scheduler for a. Seconds are the first cron field.
func NewScheduler(a *App) *Scheduler {
	s := &Scheduler{
		app:  a,
		cron: cron.New(cron.WithSeconds()),
	}
	s.run = s.fetchAndScan
	return s
}

// Start registers the job and starts the cron loop and metrics server.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	spec := s.app.Config.Schedule.Cron
	if _, err := s.cron.AddFunc(spec, s.RunNow); err != nil {
		return fmt.Errorf("register scan task '%s': %w", spec, err)
	}

	if addr := s.app.Config.Schedule.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.app.Metrics.Handler())
		s.server = &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			s.app.Logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.app.Logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	s.cron.Start()
	s.app.Logger.Info().Str("cron", spec).Msg("Scheduler started")
	return nil
}

// RunNow runs the job immediately unless a run is already in progress.
func (s *Scheduler) RunNow() {
	if !s.running.TryLock() {
		s.app.Logger.Warn().Msg("Previous scheduled scan still running, skipping")
		return
	}
	defer s.running.Unlock()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	result, err := s.run(ctx)
	if err != nil {
		s.app.Logger.Error().Err(err).Msg("Scheduled scan failed")
		return
	}
	s.app.Logger.Info().
		Str("run_id", result.RunID).
		Int("matches", len(result.Matches)).
		Int("failed", result.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled scan complete")
}

// Stop stops the cron loop, cancels a running job and waits for it.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := s.cron.Stop()
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.app.Logger.Info().Msg("Scheduler stopped")
	return err
}

// fetchAndScan refreshes the cache then scans it; scans alone never
// refetch instruments that are already cached.
func (s *Scheduler) fetchAndScan(ctx context.Context) (*models.ScanReport, error) {
	if _, err := s.app.RunFetch(ctx); err != nil {
		return nil, err
	}
	return s.app.RunScan(ctx)
}
