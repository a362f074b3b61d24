// Package sched runs the background engines on fixed schedules.
package sched

import (
	"context"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled unit of background work.
type Job struct {
	Name string
	Spec string // robfig/cron descriptor, e.g. "@every 6h"
	Run  func(ctx context.Context)
}

// Service owns the cron runner. Jobs get a per-run timeout and panic
// recovery so one bad run never takes the scheduler down.
type Service struct {
	cron    *rcron.Cron
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewService builds the scheduler. perRunTimeout bounds each job execution.
func NewService(perRunTimeout time.Duration, log zerolog.Logger) *Service {
	if perRunTimeout <= 0 {
		perRunTimeout = 5 * time.Minute
	}
	return &Service{
		cron:    rcron.New(),
		log:     log,
		timeout: perRunTimeout,
	}
}

// Register adds a job. Must be called before Start.
func (s *Service) Register(job Job) error {
	_, err := s.cron.AddFunc(job.Spec, func() {
		s.execute(job)
	})
	if err != nil {
		return err
	}
	s.log.Debug().Str("job", job.Name).Str("spec", job.Spec).Msg("job registered")
	return nil
}

func (s *Service) execute(job Job) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	if base == nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("job", job.Name).Msg("job panicked")
		}
	}()
	job.Run(ctx)
	s.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job done")
}

// Start launches the schedule. The given context bounds every job run.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.baseCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts scheduling and waits briefly for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.baseCtx = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("stop timeout waiting for running jobs")
	}
	s.log.Info().Msg("scheduler stopped")
}
