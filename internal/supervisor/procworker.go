package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"context"

	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/relay"
)

// ProcessWorker runs the relay as a child OS process. Messages arrive as
// JSON lines on the child's stdout; control messages go out on its stdin.
// Crashes in the socket-heavy relay stay isolated from the key-holding
// parent.
type ProcessWorker struct {
	path   string
	args   []string
	logger *log.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	msgs chan domain.RelayMessage
	done chan struct{}
}

// NewProcessWorker creates a worker that will exec path with args.
func NewProcessWorker(path string, args []string, logger *log.Logger) *ProcessWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &ProcessWorker{
		path:   path,
		args:   args,
		logger: logger,
		msgs:   make(chan domain.RelayMessage, 64),
		done:   make(chan struct{}),
	}
}

// ProcessFactory returns a WorkerFactory spawning the given command. The
// usual command is the relayd binary itself re-exec'ed in relay mode.
func ProcessFactory(path string, args []string, logger *log.Logger) WorkerFactory {
	return func() Worker {
		return NewProcessWorker(path, args, logger)
	}
}

// Start launches the child process and begins decoding its output.
func (w *ProcessWorker) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.path, w.args...)
	cmd.Stderr = os.Stderr // child logs pass through

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	// Let the supervisor drive termination; a cancelled ctx should not
	// bypass the graceful shutdown handshake.
	cmd.Cancel = func() error { return nil }

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start relay worker: %w", err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = stdin
	w.mu.Unlock()

	w.logger.Printf("[supervisor] relay worker started (pid=%d)", cmd.Process.Pid)

	go w.readLoop(stdout)
	go func() {
		err := cmd.Wait()
		if err != nil {
			w.logger.Printf("[supervisor] relay worker exited: %v", err)
		}
		close(w.done)
	}()

	return nil
}

// readLoop decodes JSON-line messages from the child. Undecodable or
// unknown-typed lines are logged and dropped, never fatal.
func (w *ProcessWorker) readLoop(stdout io.Reader) {
	defer close(w.msgs)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := domain.DecodeRelayMessage(line)
		if err != nil {
			w.logger.Printf("[supervisor] dropping malformed relay output: %v", err)
			continue
		}
		select {
		case w.msgs <- msg:
		case <-w.done:
			return
		}
	}
}

// Messages streams decoded relay messages.
func (w *ProcessWorker) Messages() <-chan domain.RelayMessage {
	return w.msgs
}

// Done is closed once the child has exited.
func (w *ProcessWorker) Done() <-chan struct{} {
	return w.done
}

// SendShutdown writes the shutdown record to the child's stdin.
func (w *ProcessWorker) SendShutdown() error {
	w.mu.Lock()
	stdin := w.stdin
	w.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("worker not started")
	}
	return relay.NewLineEmitter(stdin).Emit(domain.NewShutdown())
}

// Terminate sends SIGTERM to the child.
func (w *ProcessWorker) Terminate() error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("worker not started")
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}

// Kill force-terminates the child.
func (w *ProcessWorker) Kill() error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("worker not started")
	}
	return cmd.Process.Kill()
}
