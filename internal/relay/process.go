package relay

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
)

// RunProcess runs the relay as a worker process: messages go out as JSON
// lines on stdout, and a shutdown message on stdin (or stdin closing, which
// means the parent died) ends the run. Returns nil on a cooperative
// shutdown.
func RunProcess(ctx context.Context, cfg Config, logger *log.Logger) error {
	return runProcess(ctx, cfg, os.Stdin, os.Stdout, logger)
}

func runProcess(ctx context.Context, cfg Config, in io.Reader, out io.Writer, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}

	r := New(Options{
		Config:  cfg,
		Emitter: NewLineEmitter(out),
		Logger:  logger,
	})

	if err := r.Start(ctx); err != nil {
		return err
	}
	defer r.Stop()

	// Watch the inbound channel for the shutdown record. Anything else from
	// the parent is unexpected; log and keep going.
	shutdownCh := make(chan struct{})
	go func() {
		defer close(shutdownCh)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			msg, err := decodeControl(line)
			if err != nil {
				logger.Printf("[relay] dropping unknown control message: %v", err)
				continue
			}
			if msg {
				return
			}
		}
		// EOF: the parent is gone; shut down rather than run orphaned.
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-shutdownCh:
		logger.Printf("[relay] shutdown requested")
		return nil
	}
}
