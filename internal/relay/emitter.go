package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"solana-oracle-relay/internal/domain"
)

// LineEmitter writes relay messages as JSON lines. In the worker process
// the writer is stdout, the parent's end of the channel.
type LineEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineEmitter creates an emitter writing to w.
func NewLineEmitter(w io.Writer) *LineEmitter {
	return &LineEmitter{w: w}
}

// Emit writes one message as a single line. Writes are serialized so
// concurrent emitters cannot interleave records.
func (e *LineEmitter) Emit(msg domain.RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write relay message: %w", err)
	}
	return nil
}
