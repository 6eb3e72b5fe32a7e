package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSlowConsumer reports a client that stopped draining the stream.
	ErrSlowConsumer = errors.New("stream: slow consumer")
	// ErrStreamClosed reports an emit after the stream terminated.
	ErrStreamClosed = errors.New("stream: closed")
)

// EmitterConfig tunes the bounded buffer.
type EmitterConfig struct {
	// BufferSize is the number of events held while the consumer drains.
	BufferSize int
	// OverflowWait is how long Emit blocks on a full buffer before the
	// stream is declared slow and terminated.
	OverflowWait time.Duration
}

// DefaultEmitterConfig matches the protocol defaults.
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{BufferSize: 64, OverflowWait: 30 * time.Second}
}

// Emitter is the bounded-buffer bridge between the coordinator and one
// SSE connection. The coordinator blocks here, never the agent
// pipeline; a consumer that stops draining gets the stream terminated
// with error{reason: slow_consumer}.
type Emitter struct {
	cfg EmitterConfig
	ch  chan Event

	mu       sync.Mutex
	closed   bool
	terminal *Event
}

// NewEmitter builds an emitter for one connection.
func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultEmitterConfig().BufferSize
	}
	if cfg.OverflowWait <= 0 {
		cfg.OverflowWait = DefaultEmitterConfig().OverflowWait
	}
	return &Emitter{cfg: cfg, ch: make(chan Event, cfg.BufferSize)}
}

// Events is the consumer side. The channel closes when the stream
// terminates; Terminal then holds the closing event, if any.
func (e *Emitter) Events() <-chan Event { return e.ch }

// Terminal returns the event recorded at termination (slow-consumer
// error), or nil when the stream closed normally through the buffer.
func (e *Emitter) Terminal() *Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

// Emit enqueues an event, blocking while the buffer is full. A buffer
// that stays full past OverflowWait terminates the stream.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrStreamClosed
	}
	e.mu.Unlock()

	select {
	case e.ch <- ev:
		return nil
	default:
	}

	timer := time.NewTimer(e.cfg.OverflowWait)
	defer timer.Stop()
	select {
	case e.ch <- ev:
		return nil
	case <-ctx.Done():
		e.terminate(nil)
		return ctx.Err()
	case <-timer.C:
		e.terminate(&Event{
			Type: EventError,
			Data: map[string]any{"reason": "slow_consumer"},
		})
		return ErrSlowConsumer
	}
}

// Close terminates the stream normally after the final event is
// enqueued. Safe to call more than once.
func (e *Emitter) Close() {
	e.terminate(nil)
}

func (e *Emitter) terminate(terminal *Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.terminal = terminal
	close(e.ch)
}
