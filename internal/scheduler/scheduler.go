// Package scheduler fires named jobs at a start time and then at a fixed period.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"servicetag/internal/logging"
)

// Handler receives the name of a job that is due.
type Handler func(ctx context.Context, name string)

// Job is a recurring event definition.
type Job struct {
	Name    string
	StartAt time.Time
	Every   time.Duration
}

var ErrInvalidJob = errors.New("invalid job")

type Scheduler struct {
	handler Handler
	log     *zap.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	started bool
	ctx     context.Context
	wg      sync.WaitGroup
}

func New(h Handler, logger *zap.Logger) *Scheduler {
	return &Scheduler{handler: h, log: logging.OrNop(logger), jobs: map[string]Job{}}
}

// Create registers a job. A job with the same name is replaced only before
// Start; after Start new names begin running immediately.
func (s *Scheduler) Create(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" || job.Every <= 0 {
		return ErrInvalidJob
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists && s.started {
		return errors.New("job already scheduled: " + job.Name)
	}
	s.jobs[job.Name] = job
	s.log.Info("scheduled job",
		zap.String("job", job.Name),
		zap.Time("start_at", job.StartAt),
		zap.Duration("every", job.Every))
	if s.started {
		s.launch(job)
	}
	return nil
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Start runs every registered job until ctx is done, then waits for the
// job loops to return.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.ctx = ctx
	for _, j := range s.jobs {
		s.launch(j)
	}
	s.mu.Unlock()
	<-ctx.Done()
	s.wg.Wait()
}

func (s *Scheduler) launch(job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(s.ctx, job)
	}()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if wait := time.Until(job.StartAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()
	for {
		s.fire(ctx, job.Name)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, name string) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("scheduled job panicked", zap.String("job", name), zap.Any("panic", p))
		}
	}()
	s.handler(ctx, name)
}
