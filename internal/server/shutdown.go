package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook priorities; lower runs first.
const (
	PriorityHTTP     = 10
	PriorityWorker   = 20
	PriorityTracing  = 80
	PriorityStorage  = 90
	PriorityFinalize = 95
)

// ShutdownHook is a function called during shutdown.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *slog.Logger
}

// DefaultShutdownConfig returns a 30s timeout on SIGTERM and SIGINT.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// ShutdownHandler runs registered hooks in priority order when a signal
// arrives or Shutdown is called.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	signals []os.Signal
	logger  *slog.Logger

	started      bool
	shutdownCh   chan struct{}
	doneCh       chan struct{}
	shutdownOnce sync.Once
}

// NewShutdownHandler creates a shutdown handler.
func NewShutdownHandler(cfg *ShutdownConfig) *ShutdownHandler {
	if cfg == nil {
		cfg = DefaultShutdownConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownHandler{
		timeout:    cfg.Timeout,
		signals:    cfg.Signals,
		logger:     logger,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// RegisterHook adds a hook. Hooks of equal priority run in registration
// order.
func (s *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, ShutdownHook{Name: name, Priority: priority, Fn: fn})
	sort.SliceStable(s.hooks, func(i, j int) bool { return s.hooks[i].Priority < s.hooks[j].Priority })
}

// Start begins listening for shutdown signals.
func (s *ShutdownHandler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	if len(s.signals) > 0 {
		signal.Notify(sigCh, s.signals...)
	}

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutdown signal received", "signal", sig.String())
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
		case <-s.shutdownCh:
		}
		signal.Stop(sigCh)
		s.run()
	}()
}

// Shutdown triggers shutdown manually. It is a no-op before Start.
func (s *ShutdownHandler) Shutdown() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Stopping is closed when shutdown begins.
func (s *ShutdownHandler) Stopping() <-chan struct{} { return s.shutdownCh }

// Done is closed when every hook has run.
func (s *ShutdownHandler) Done() <-chan struct{} { return s.doneCh }

// Wait blocks until shutdown is complete.
func (s *ShutdownHandler) Wait() { <-s.doneCh }

// WaitWithTimeout blocks until shutdown completes or timeout elapses.
func (s *ShutdownHandler) WaitWithTimeout(timeout time.Duration) bool {
	select {
	case <-s.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *ShutdownHandler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := append([]ShutdownHook(nil), s.hooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		start := time.Now()
		if err := h.Fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", "hook", h.Name, "error", err)
			continue
		}
		s.logger.Debug("shutdown hook done", "hook", h.Name, "duration", time.Since(start))
	}
	close(s.doneCh)
}
