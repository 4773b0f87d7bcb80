package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener receives world tick events.
type Listener interface {
	OnTick(worldTime time.Time)
}

// Clock drives the agents' world time with a configurable tick rate and
// speed multiplier. Trigger evaluation stays deterministic because the
// clock always hands listeners an explicit time.
type Clock struct {
	speed     float64 // time multiplier, 1.0 = realtime
	interval  time.Duration
	listeners []Listener
	worldTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	logger    *zap.Logger
}

// New creates a clock with the given tick interval and speed multiplier.
func New(interval time.Duration, speed float64, logger *zap.Logger) *Clock {
	return &Clock{
		speed:     speed,
		interval:  interval,
		worldTime: time.Now(),
		logger:    logger,
	}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// WorldTime returns the current simulated world time.
func (c *Clock) WorldTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worldTime
}

// SetSpeed changes the time multiplier.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// Start begins the tick loop in a background goroutine.
func (c *Clock) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.loop(ctx)
	c.logger.Info("world clock started",
		zap.Duration("interval", c.interval),
		zap.Float64("speed", c.speed))
}

// Stop halts the tick loop.
func (c *Clock) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.logger.Info("world clock stopped")
	}
}

func (c *Clock) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Clock) tick() {
	c.mu.Lock()
	c.worldTime = c.worldTime.Add(
		time.Duration(float64(c.interval) * c.speed),
	)
	wt := c.worldTime
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(wt)
	}
}
