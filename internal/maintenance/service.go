// Package maintenance runs periodic cleanup for suggestd: expired cooldown
// entries, consumed suggestions, stale cached vectors and planner statistics.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes rows older than cutoff and reports how many went.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// PrunerFunc adapts a function to Pruner.
type PrunerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// Prune calls f.
func (f PrunerFunc) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

// Optimizer refreshes database statistics.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Task is one pruning job with its retention.
type Task struct {
	Name      string
	Pruner    Pruner
	Retention time.Duration
}

// Options configures the scheduler.
type Options struct {
	Interval time.Duration
	// InitialDelay postpones the first run so startup traffic is not competing with it.
	InitialDelay time.Duration
}

// Stats is a snapshot of the scheduler.
type Stats struct {
	LastRun        time.Time        `json:"last_run"`
	LastDurationMs int64            `json:"last_duration_ms"`
	Runs           int64            `json:"runs"`
	Pruned         map[string]int64 `json:"pruned"`
	Optimizes      int64            `json:"optimizes"`
	Running        bool             `json:"running"`
}

// Service handles scheduled maintenance tasks.
type Service struct {
	log       zerolog.Logger
	tasks     []Task
	optimizer Optimizer
	opts      Options
	now       func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}

	mu              sync.Mutex
	running         bool
	lastRunTime     time.Time
	lastRunDuration time.Duration
	runs            int64
	optimizes       int64
	pruned          map[string]int64
}

// NewService creates a maintenance service. Tasks with a nil pruner or a
// non-positive retention are skipped. optimizer may be nil.
func NewService(tasks []Task, optimizer Optimizer, opts Options, log zerolog.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}

	kept := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Pruner != nil && t.Retention > 0 {
			kept = append(kept, t)
		}
	}

	return &Service{
		log:       log.With().Str("component", "maintenance").Logger(),
		tasks:     kept,
		optimizer: optimizer,
		opts:      opts,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		pruned:    make(map[string]int64),
	}
}

// Start runs the maintenance loop until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	s.log.Info().
		Dur("interval", s.opts.Interval).
		Int("tasks", len(s.tasks)).
		Msg("Starting maintenance scheduler")

	if s.opts.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(s.opts.InitialDelay):
		}
	}
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop signals the maintenance loop to stop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Wait blocks until Start has returned.
func (s *Service) Wait() {
	<-s.doneCh
}

// RunOnce executes every task synchronously. A failing task does not stop the others.
func (s *Service) RunOnce(ctx context.Context) {
	start := s.now()
	counts := make(map[string]int64, len(s.tasks))

	for _, t := range s.tasks {
		cutoff := start.Add(-t.Retention)
		n, err := t.Pruner.Prune(ctx, cutoff)
		if err != nil {
			s.log.Error().Err(err).Str("task", t.Name).Msg("Maintenance task failed")
			continue
		}
		counts[t.Name] = n
		if n > 0 {
			s.log.Info().Str("task", t.Name).Int64("pruned", n).Time("cutoff", cutoff).Msg("Pruned rows")
		}
	}

	optimized := false
	if s.optimizer != nil {
		if err := s.optimizer.Optimize(ctx); err != nil {
			s.log.Error().Err(err).Msg("Failed to optimize database")
		} else {
			optimized = true
		}
	}

	s.mu.Lock()
	s.lastRunTime = s.now()
	s.lastRunDuration = time.Since(start)
	s.runs++
	if optimized {
		s.optimizes++
	}
	for name, n := range counts {
		s.pruned[name] += n
	}
	s.mu.Unlock()

	s.log.Debug().Dur("duration", time.Since(start)).Msg("Maintenance run completed")
}

// Stats returns maintenance statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := make(map[string]int64, len(s.pruned))
	for k, v := range s.pruned {
		pruned[k] = v
	}
	return Stats{
		LastRun:        s.lastRunTime,
		LastDurationMs: s.lastRunDuration.Milliseconds(),
		Runs:           s.runs,
		Pruned:         pruned,
		Optimizes:      s.optimizes,
		Running:        s.running,
	}
}
