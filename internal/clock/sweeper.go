package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TriggerFunc runs one agent's metacognition trigger check at the given
// world time.
type TriggerFunc func(ctx context.Context, agentID string, now time.Time) error

// ListAgentsFunc returns all agent IDs the sweeper should cover.
type ListAgentsFunc func(ctx context.Context) ([]string, error)

// Sweeper is a clock listener that periodically walks every known agent
// and runs its trigger check. It is the external scheduler for the
// otherwise time-parameter-driven evaluator.
type Sweeper struct {
	interval  time.Duration // world-time between sweeps
	lastSweep time.Time
	checkFn   TriggerFunc
	listFn    ListAgentsFunc
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewSweeper creates a trigger sweeper.
func NewSweeper(interval time.Duration, checkFn TriggerFunc, listFn ListAgentsFunc, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		interval: interval,
		checkFn:  checkFn,
		listFn:   listFn,
		logger:   logger,
	}
}

// FireNow forces an immediate sweep of all agents, bypassing the
// interval check. Returns how many agents were checked.
func (s *Sweeper) FireNow(now time.Time) int {
	return s.sweep(now)
}

// OnTick implements Listener.
func (s *Sweeper) OnTick(worldTime time.Time) {
	s.mu.Lock()
	if s.lastSweep.IsZero() {
		s.lastSweep = worldTime
		s.mu.Unlock()
		return
	}
	if worldTime.Sub(s.lastSweep) < s.interval {
		s.mu.Unlock()
		return
	}
	s.lastSweep = worldTime
	s.mu.Unlock()

	s.sweep(worldTime)
}

func (s *Sweeper) sweep(now time.Time) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agents, err := s.listFn(ctx)
	if err != nil {
		s.logger.Warn("sweep agent listing failed", zap.Error(err))
		return 0
	}

	checked := 0
	for _, id := range agents {
		if err := s.checkFn(ctx, id, now); err != nil {
			s.logger.Warn("trigger check failed",
				zap.String("agent", id),
				zap.Error(err))
			continue
		}
		checked++
	}
	if checked > 0 {
		s.logger.Debug("trigger sweep complete",
			zap.Int("agents", checked),
			zap.Time("world_time", now))
	}
	return checked
}
