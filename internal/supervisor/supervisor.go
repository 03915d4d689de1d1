// Package supervisor runs the price relay as an isolated worker process and
// keeps it alive: heartbeat-based hang detection, bounded crash restarts and
// escalation to the owner when restarts are exhausted.
package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"solana-oracle-relay/internal/domain"
)

// Default configuration values.
const (
	DefaultMaxRestarts         = 5
	DefaultRestartDelay        = 2 * time.Second
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthCheckTimeout  = 30 * time.Second
	DefaultShutdownGrace       = 2 * time.Second
	DefaultKillGrace           = 5 * time.Second
)

// Supervisor errors.
var (
	// ErrAlreadyRunning is returned by Start when the supervisor is not stopped.
	ErrAlreadyRunning = errors.New("supervisor already running")

	// ErrMaxRestarts is reported when the relay exhausted its restart budget.
	ErrMaxRestarts = errors.New("relay worker exceeded max restarts")
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateRestarting
	StateFatal
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Worker is one relay worker instance. The process-backed implementation
// lives in this package; tests inject fakes.
type Worker interface {
	// Start launches the worker.
	Start(ctx context.Context) error
	// Messages streams decoded relay messages; closed when the worker exits.
	Messages() <-chan domain.RelayMessage
	// Done is closed when the worker has exited for any reason.
	Done() <-chan struct{}
	// SendShutdown asks the worker to exit cooperatively.
	SendShutdown() error
	// Terminate sends a graceful kill signal.
	Terminate() error
	// Kill force-terminates the worker.
	Kill() error
}

// WorkerFactory creates a fresh worker for each (re)spawn.
type WorkerFactory func() Worker

// Config tunes supervision behavior.
type Config struct {
	MaxRestarts         int
	RestartDelay        time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	ShutdownGrace       time.Duration
	KillGrace           time.Duration
}

// DefaultConfig returns the default supervision configuration.
func DefaultConfig() Config {
	return Config{
		MaxRestarts:         DefaultMaxRestarts,
		RestartDelay:        DefaultRestartDelay,
		HealthCheckInterval: DefaultHealthCheckInterval,
		HealthCheckTimeout:  DefaultHealthCheckTimeout,
		ShutdownGrace:       DefaultShutdownGrace,
		KillGrace:           DefaultKillGrace,
	}
}

// Handlers are the registered subscribers for supervisor events. Nil
// handlers are skipped.
type Handlers struct {
	Heartbeat   func(tsMs int64)
	PriceUpdate func(tsMs int64, snapshot domain.PriceSnapshot)
	// Restarted fires when a crash has been counted and a respawn is
	// scheduled.
	Restarted           func(restartCount int)
	MaxRestartsExceeded func()
}

// Supervisor owns the worker lifecycle.
type Supervisor struct {
	config   Config
	factory  WorkerFactory
	handlers Handlers
	logger   *log.Logger
	now      func() time.Time

	mu            sync.Mutex
	state         State
	worker        Worker
	restartCount  int
	lastHeartbeat time.Time
	stopping      bool
	restartTimer  *time.Timer
	cancelHealth  context.CancelFunc
	ctx           context.Context
}

// Options contains configuration for creating a Supervisor.
type Options struct {
	Config   Config
	Factory  WorkerFactory
	Handlers Handlers
	Logger   *log.Logger
}

// New creates a supervisor in the stopped state.
func New(opts Options) *Supervisor {
	cfg := opts.Config
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = DefaultKillGrace
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Supervisor{
		config:   cfg,
		factory:  opts.Factory,
		handlers: opts.Handlers,
		logger:   logger,
		now:      time.Now,
		state:    StateStopped,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RestartCount returns the number of restarts performed in this run.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// Start spawns the relay worker and begins health checking.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateRunning
	s.stopping = false
	s.restartCount = 0
	s.ctx = ctx

	healthCtx, cancel := context.WithCancel(ctx)
	s.cancelHealth = cancel
	s.mu.Unlock()

	if err := s.spawn(); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		cancel()
		return err
	}

	go s.healthCheckLoop(healthCtx)
	return nil
}

// Stop shuts the worker down cooperatively, then forcibly after the grace
// period. Safe to call from any state.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.state = StateStopped
	worker := s.worker
	s.worker = nil
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.cancelHealth != nil {
		s.cancelHealth()
		s.cancelHealth = nil
	}
	s.mu.Unlock()

	if worker == nil {
		return
	}

	if err := worker.SendShutdown(); err != nil {
		s.logger.Printf("[supervisor] shutdown message failed: %v", err)
	}

	select {
	case <-worker.Done():
		s.logger.Printf("[supervisor] worker exited cleanly")
	case <-time.After(s.config.ShutdownGrace):
		s.logger.Printf("[supervisor] worker did not exit within %v, killing", s.config.ShutdownGrace)
		worker.Kill()
		<-worker.Done()
	}
}

// spawn creates and launches a fresh worker, wiring its message stream and
// exit watcher.
func (s *Supervisor) spawn() error {
	worker := s.factory()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := worker.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.worker = worker
	s.lastHeartbeat = s.now()
	s.mu.Unlock()

	go s.pumpMessages(worker)
	go s.watchExit(worker)
	return nil
}

// pumpMessages dispatches worker messages to registered handlers. Unknown
// message types never reach here: the worker drops them at decode time.
func (s *Supervisor) pumpMessages(worker Worker) {
	for msg := range worker.Messages() {
		switch msg.Type {
		case domain.MessageHeartbeat:
			s.mu.Lock()
			s.lastHeartbeat = s.now()
			s.mu.Unlock()
			if s.handlers.Heartbeat != nil {
				s.handlers.Heartbeat(msg.Timestamp)
			}
		case domain.MessagePriceUpdate:
			if msg.Data == nil {
				s.logger.Printf("[supervisor] dropping price_update without data")
				continue
			}
			if s.handlers.PriceUpdate != nil {
				s.handlers.PriceUpdate(msg.Timestamp, *msg.Data)
			}
		default:
			s.logger.Printf("[supervisor] dropping unexpected message type %q", msg.Type)
		}
	}
}

// watchExit drives the crash-handling path when the worker exits while the
// supervisor is not intentionally shutting down.
func (s *Supervisor) watchExit(worker Worker) {
	<-worker.Done()

	s.mu.Lock()
	if s.stopping || s.worker != worker {
		s.mu.Unlock()
		return
	}
	s.worker = nil
	s.state = StateRestarting
	s.restartCount++
	count := s.restartCount
	s.mu.Unlock()

	if count > s.config.MaxRestarts {
		s.mu.Lock()
		s.state = StateFatal
		if s.cancelHealth != nil {
			s.cancelHealth()
			s.cancelHealth = nil
		}
		s.mu.Unlock()

		s.logger.Printf("[supervisor] relay exceeded max restarts (%d), giving up", s.config.MaxRestarts)
		if s.handlers.MaxRestartsExceeded != nil {
			s.handlers.MaxRestartsExceeded()
		}
		return
	}

	s.logger.Printf("[supervisor] relay exited, restart %d/%d in %v", count, s.config.MaxRestarts, s.config.RestartDelay)
	if s.handlers.Restarted != nil {
		s.handlers.Restarted(count)
	}

	s.mu.Lock()
	s.restartTimer = time.AfterFunc(s.config.RestartDelay, func() {
		s.mu.Lock()
		if s.stopping || s.state != StateRestarting {
			s.mu.Unlock()
			return
		}
		s.state = StateRunning
		s.mu.Unlock()

		if err := s.spawn(); err != nil {
			s.logger.Printf("[supervisor] respawn failed: %v", err)
			// Treat the failed spawn as another crash.
			s.mu.Lock()
			s.state = StateRestarting
			s.mu.Unlock()
			s.simulateExit()
		}
	})
	s.mu.Unlock()
}

// simulateExit re-enters the crash path for a spawn that never started.
func (s *Supervisor) simulateExit() {
	s.mu.Lock()
	s.restartCount++
	count := s.restartCount
	s.mu.Unlock()

	if count > s.config.MaxRestarts {
		s.mu.Lock()
		s.state = StateFatal
		s.mu.Unlock()
		if s.handlers.MaxRestartsExceeded != nil {
			s.handlers.MaxRestartsExceeded()
		}
		return
	}

	if s.handlers.Restarted != nil {
		s.handlers.Restarted(count)
	}

	s.mu.Lock()
	s.restartTimer = time.AfterFunc(s.config.RestartDelay, func() {
		s.mu.Lock()
		if s.stopping || s.state != StateRestarting {
			s.mu.Unlock()
			return
		}
		s.state = StateRunning
		s.mu.Unlock()
		if err := s.spawn(); err != nil {
			s.mu.Lock()
			s.state = StateRestarting
			s.mu.Unlock()
			s.simulateExit()
		}
	})
	s.mu.Unlock()
}

// healthCheckLoop kills the worker when its heartbeat goes silent for
// longer than the timeout; the exit watcher then handles it as a crash.
func (s *Supervisor) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			worker := s.worker
			silent := s.now().Sub(s.lastHeartbeat)
			s.mu.Unlock()

			if worker == nil || silent <= s.config.HealthCheckTimeout {
				continue
			}

			s.logger.Printf("[supervisor] no heartbeat for %v (timeout %v), terminating hung relay",
				silent.Round(time.Second), s.config.HealthCheckTimeout)
			if err := worker.Terminate(); err != nil {
				s.logger.Printf("[supervisor] terminate failed: %v", err)
			}

			select {
			case <-worker.Done():
			case <-time.After(s.config.KillGrace):
				s.logger.Printf("[supervisor] relay ignored terminate, killing")
				worker.Kill()
			}
		}
	}
}
