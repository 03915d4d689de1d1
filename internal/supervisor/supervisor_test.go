package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"solana-oracle-relay/internal/domain"
)

// fakeWorker is an in-process Worker for supervision tests.
type fakeWorker struct {
	mu         sync.Mutex
	msgs       chan domain.RelayMessage
	done       chan struct{}
	terminated bool
	killed     bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		msgs: make(chan domain.RelayMessage, 16),
		done: make(chan struct{}),
	}
}

func (w *fakeWorker) Start(ctx context.Context) error      { return nil }
func (w *fakeWorker) Messages() <-chan domain.RelayMessage { return w.msgs }
func (w *fakeWorker) Done() <-chan struct{}                { return w.done }
func (w *fakeWorker) SendShutdown() error                  { w.crash(); return nil }

func (w *fakeWorker) Terminate() error {
	w.mu.Lock()
	w.terminated = true
	w.mu.Unlock()
	w.crash()
	return nil
}

func (w *fakeWorker) Kill() error {
	w.mu.Lock()
	w.killed = true
	w.mu.Unlock()
	w.crash()
	return nil
}

// crash simulates the worker process exiting.
func (w *fakeWorker) crash() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.msgs)
		close(w.done)
	}
}

func (w *fakeWorker) wasTerminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated
}

// workerTracker hands out fake workers and remembers them in spawn order.
type workerTracker struct {
	mu      sync.Mutex
	workers []*fakeWorker
}

func (tr *workerTracker) factory() Worker {
	w := newFakeWorker()
	tr.mu.Lock()
	tr.workers = append(tr.workers, w)
	tr.mu.Unlock()
	return w
}

func (tr *workerTracker) count() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.workers)
}

func (tr *workerTracker) latest() *fakeWorker {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.workers[len(tr.workers)-1]
}

func (tr *workerTracker) waitForSpawn(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for spawn %d (have %d)", n, tr.count())
		}
		time.Sleep(time.Millisecond)
	}
}

func fastConfig() Config {
	return Config{
		MaxRestarts:         5,
		RestartDelay:        5 * time.Millisecond,
		HealthCheckInterval: time.Hour, // disabled unless a test wants it
		HealthCheckTimeout:  time.Hour,
		ShutdownGrace:       50 * time.Millisecond,
		KillGrace:           50 * time.Millisecond,
	}
}

func TestSupervisor_RestartsAfterCrash(t *testing.T) {
	tracker := &workerTracker{}
	sup := New(Options{Config: fastConfig(), Factory: tracker.factory})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	tracker.waitForSpawn(t, 1)
	tracker.latest().crash()
	tracker.waitForSpawn(t, 2)

	if got := sup.RestartCount(); got != 1 {
		t.Errorf("Expected restart count 1, got %d", got)
	}
	if sup.State() != StateRunning {
		t.Errorf("Expected running after restart, got %s", sup.State())
	}
}

func TestSupervisor_MaxRestartsExceeded(t *testing.T) {
	tracker := &workerTracker{}
	exceeded := make(chan struct{})
	var restarts atomic.Int32

	sup := New(Options{
		Config:  fastConfig(),
		Factory: tracker.factory,
		Handlers: Handlers{
			Restarted:           func(count int) { restarts.Add(1) },
			MaxRestartsExceeded: func() { close(exceeded) },
		},
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	// Five crashes consume the budget; the supervisor respawns each time.
	for i := 1; i <= 5; i++ {
		tracker.waitForSpawn(t, i)
		tracker.latest().crash()
	}
	tracker.waitForSpawn(t, 6)

	select {
	case <-exceeded:
		t.Fatal("Budget reported exhausted before it was")
	default:
	}

	// The sixth crash goes over budget: no respawn, fatal state, handler fires.
	tracker.latest().crash()

	select {
	case <-exceeded:
	case <-time.After(2 * time.Second):
		t.Fatal("MaxRestartsExceeded handler never fired")
	}

	if sup.State() != StateFatal {
		t.Errorf("Expected fatal state, got %s", sup.State())
	}
	if tracker.count() != 6 {
		t.Errorf("Expected no respawn after fatal, got %d spawns", tracker.count())
	}
	if restarts.Load() != 5 {
		t.Errorf("Expected 5 restart notifications, got %d", restarts.Load())
	}
}

func TestSupervisor_HeartbeatDispatch(t *testing.T) {
	tracker := &workerTracker{}
	beats := make(chan int64, 1)

	sup := New(Options{
		Config:  fastConfig(),
		Factory: tracker.factory,
		Handlers: Handlers{
			Heartbeat: func(tsMs int64) { beats <- tsMs },
		},
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	tracker.waitForSpawn(t, 1)
	tracker.latest().msgs <- domain.NewHeartbeat(12345)

	select {
	case ts := <-beats:
		if ts != 12345 {
			t.Errorf("Expected heartbeat ts 12345, got %d", ts)
		}
	case <-time.After(time.Second):
		t.Fatal("Heartbeat handler never fired")
	}
}

func TestSupervisor_PriceUpdateDispatch(t *testing.T) {
	tracker := &workerTracker{}
	updates := make(chan domain.PriceSnapshot, 1)

	sup := New(Options{
		Config:  fastConfig(),
		Factory: tracker.factory,
		Handlers: Handlers{
			PriceUpdate: func(tsMs int64, s domain.PriceSnapshot) { updates <- s },
		},
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	tracker.waitForSpawn(t, 1)

	var snap domain.PriceSnapshot
	snap.Set(domain.AssetBTC, 50_000)
	tracker.latest().msgs <- domain.NewPriceUpdate(1000, snap)

	select {
	case got := <-updates:
		if price, ok := got.Get(domain.AssetBTC); !ok || price != 50_000 {
			t.Errorf("Expected BTC 50000 in snapshot, got %v (ok=%v)", price, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("PriceUpdate handler never fired")
	}
}

func TestSupervisor_TerminatesHungWorker(t *testing.T) {
	cfg := fastConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	cfg.HealthCheckTimeout = 20 * time.Millisecond

	tracker := &workerTracker{}
	sup := New(Options{Config: cfg, Factory: tracker.factory})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	tracker.waitForSpawn(t, 1)
	first := tracker.latest()

	// No heartbeats arrive; the health checker must put the worker down and
	// the crash path must bring up a replacement.
	tracker.waitForSpawn(t, 2)
	if !first.wasTerminated() {
		t.Error("Hung worker was never terminated")
	}
}

func TestSupervisor_StartTwice(t *testing.T) {
	tracker := &workerTracker{}
	sup := New(Options{Config: fastConfig(), Factory: tracker.factory})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	if err := sup.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSupervisor_StopIsGraceful(t *testing.T) {
	tracker := &workerTracker{}
	sup := New(Options{Config: fastConfig(), Factory: tracker.factory})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	tracker.waitForSpawn(t, 1)

	sup.Stop()

	if sup.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", sup.State())
	}
	if tracker.count() != 1 {
		t.Errorf("Stop must not respawn, got %d spawns", tracker.count())
	}

	// Idempotent.
	sup.Stop()
}
