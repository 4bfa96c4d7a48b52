/*
scheduler.go - Periodic background auto-assign

PURPOSE:
  Runs the auto-assigner on a fixed interval so tasks created between
  planning sessions get placed without anyone calling the endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Shares the run lock with POST /api/auto-assign; a tick that finds the
    lock taken is skipped, not queued

CONFIGURATION:
  - Interval: How often to run (scheduler.interval, default 15m)
  - Enabled: Whether the scheduler is active (scheduler.enabled)
  - Options: Passed to every run (allow_priority_rescheduling)

USAGE:
  s := NewAutoAssignScheduler(handler.RunAutoAssign, opts, interval)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: RunAutoAssign
  - scheduling/autoassign.go: AutoAssigner
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/logger"
	"github.com/warp/resource-scheduler/scheduling"
)

// RunFunc performs one auto-assign batch.
type RunFunc func(ctx context.Context, opts scheduling.AutoAssignOptions) (*scheduling.AutoAssignResult, error)

// AutoAssignScheduler runs auto-assign periodically.
type AutoAssignScheduler struct {
	Run      RunFunc
	Options  scheduling.AutoAssignOptions
	Interval time.Duration
	Enabled  bool
	Logger   logger.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAutoAssignScheduler creates an enabled scheduler.
func NewAutoAssignScheduler(run RunFunc, opts scheduling.AutoAssignOptions, interval time.Duration) *AutoAssignScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &AutoAssignScheduler{
		Run:      run,
		Options:  opts,
		Interval: interval,
		Enabled:  true,
		Logger:   logger.New("scheduler"),
	}
}

// Start begins the scheduler.
func (s *AutoAssignScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Infof("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.loop(ctx)

	s.Logger.Infof("started with interval %v", s.Interval)
}

// Stop stops the scheduler and waits for a running batch to return.
func (s *AutoAssignScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.cancel()
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Infof("stopped")
}

func (s *AutoAssignScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one batch and logs the outcome.
func (s *AutoAssignScheduler) RunNow(ctx context.Context) {
	result, err := s.Run(ctx, s.Options)
	switch {
	case errors.Is(err, generic.ErrRunInProgress):
		s.Logger.Debugf("run skipped: another run is in progress")
	case errors.Is(err, context.Canceled):
		if result != nil && result.Assigned > 0 {
			s.Logger.Infof("run %s cancelled after %d assigned", result.RunID, result.Assigned)
		}
	case err != nil:
		s.Logger.Errorf("run failed: %v", err)
	case result.Assigned > 0 || result.Skipped > 0:
		s.Logger.Infof("run %s: %d assigned, %d skipped, %d rescheduled",
			result.RunID, result.Assigned, result.Skipped, len(result.Rescheduled))
	}
}

// NextRunTime returns when the next scheduled run will occur.
func (s *AutoAssignScheduler) NextRunTime() time.Time {
	return time.Now().Add(s.Interval)
}
