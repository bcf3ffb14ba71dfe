package shutdown

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Func is a cleanup step run during shutdown
type Func func(ctx context.Context) error

// Priorities for the transcoder's components; lower shuts down first
const (
	PriorityHTTPServer = 10 // Stop accepting API requests
	PriorityScheduler  = 20 // Stop triggering new runs
	PriorityRuns       = 30 // Wait for the active run
	PrioritySource     = 50 // Source connections
	PriorityStorage    = 80 // Storage backends last
)

// Coordinator runs registered shutdown steps in priority order within a timeout
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step
	seq   int

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
	err          error
}

type step struct {
	name     string
	fn       Func
	priority int
	seq      int // registration order breaks priority ties
}

func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register closes c during shutdown
func (c *Coordinator) Register(name string, closer io.Closer, priority int) {
	c.RegisterHook(name, func(context.Context) error { return closer.Close() }, priority)
}

// RegisterHook runs fn during shutdown
func (c *Coordinator) RegisterHook(name string, fn Func, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, fn: fn, priority: priority, seq: c.seq})
	c.seq++

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered shutdown step")
}

// Done is closed once shutdown has been triggered
func (c *Coordinator) Done() <-chan struct{} { return c.shutdownCh }

// WaitForSignal blocks until SIGINT/SIGTERM, a programmatic trigger, or ctx ends
func (c *Coordinator) WaitForSignal(ctx context.Context) os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	case <-ctx.Done():
		return syscall.SIGTERM
	}
}

// TriggerShutdown unblocks WaitForSignal. Safe for concurrent use.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Shutdown runs every step once, in priority order. Steps left when the
// timeout expires are skipped. The first error is returned.
func (c *Coordinator) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() { close(c.shutdownCh) })

		c.mu.Lock()
		steps := append([]step(nil), c.steps...)
		c.mu.Unlock()
		sortSteps(steps)

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for _, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("step", s.name).
					Msg("Shutdown timeout reached, skipping remaining steps")
				c.err = ctx.Err()
				return
			}

			c.logger.Debug().Str("step", s.name).Int("priority", s.priority).Msg("Running shutdown step")
			if err := s.fn(ctx); err != nil {
				c.logger.Error().Err(err).Str("step", s.name).Msg("Shutdown step failed")
				if c.err == nil {
					c.err = err
				}
			}
		}

		c.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Graceful shutdown complete")
	})
	return c.err
}

func sortSteps(steps []step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].priority != steps[j].priority {
			return steps[i].priority < steps[j].priority
		}
		return steps[i].seq < steps[j].seq
	})
}
