package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Factory constructs one agent instance for a given agent id.
type Factory func() Agent

// ErrPoolExhausted is returned when an agent type is at its instance
// bound and nothing is free.
var ErrPoolExhausted = errors.New("agent pool exhausted")

// ErrUnknownAgent is returned for ids without a registered factory.
var ErrUnknownAgent = errors.New("unknown agent id")

// Pool is a bounded, lazily populated agent registry. Stateless agents
// are reused round-robin; stateful agents are process singletons.
// Acquisition hands out a scoped Handle that must be released on all
// exit paths.
type Pool struct {
	maxPerType int

	mu        sync.Mutex
	factories map[string]Factory
	idle      map[string][]Agent
	inUse     map[string]int
	total     map[string]int
	// failed marks agent ids whose Initialize failed; the router falls
	// back past them.
	failed map[string]bool
	// singletons caches stateful agents.
	singletons map[string]Agent
}

// NewPool creates a pool bounded at maxPerType instances per agent id.
func NewPool(maxPerType int) *Pool {
	if maxPerType <= 0 {
		maxPerType = 4
	}
	return &Pool{
		maxPerType: maxPerType,
		factories:  make(map[string]Factory),
		idle:       make(map[string][]Agent),
		inUse:      make(map[string]int),
		total:      make(map[string]int),
		failed:     make(map[string]bool),
		singletons: make(map[string]Agent),
	}
}

// Register installs a factory under the agent id the factory produces.
func (p *Pool) Register(id string, f Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[id] = f
}

// RegisteredIDs returns all known agent ids, including failed ones.
func (p *Pool) RegisteredIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.factories))
	for id := range p.factories {
		ids = append(ids, id)
	}
	return ids
}

// Healthy reports whether the agent id has a factory and has not failed
// initialization.
func (p *Pool) Healthy(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, known := p.factories[id]
	return known && !p.failed[id]
}

// Utilization returns the in-use fraction for the agent id, used by the
// router's tie-break.
func (p *Pool) Utilization(id string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.inUse[id]) / float64(p.maxPerType)
}

// Handle is a scoped acquisition of one agent instance.
type Handle struct {
	Agent Agent

	pool      *Pool
	id        string
	singleton bool
	released  bool
	mu        sync.Mutex
}

// Release returns the agent to the pool. Idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.pool.release(h.id, h.Agent, h.singleton)
}

// Acquire checks out an instance of the given agent id, creating and
// initializing one lazily if under the bound. Initialization failure
// marks the id failed so the router can fall back.
func (p *Pool) Acquire(ctx context.Context, id string) (*Handle, error) {
	p.mu.Lock()
	factory, known := p.factories[id]
	if !known {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if p.failed[id] {
		p.mu.Unlock()
		return nil, fmt.Errorf("agent %s failed initialization", id)
	}

	// Singleton fast path.
	if existing, ok := p.singletons[id]; ok {
		p.inUse[id]++
		p.mu.Unlock()
		return &Handle{Agent: existing, pool: p, id: id, singleton: true}, nil
	}

	if n := len(p.idle[id]); n > 0 {
		a := p.idle[id][n-1]
		p.idle[id] = p.idle[id][:n-1]
		p.inUse[id]++
		p.mu.Unlock()
		return &Handle{Agent: a, pool: p, id: id}, nil
	}

	if p.total[id] >= p.maxPerType {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s at %d instances", ErrPoolExhausted, id, p.maxPerType)
	}
	// Reserve the slot before constructing outside the lock.
	p.total[id]++
	p.inUse[id]++
	p.mu.Unlock()

	a := factory()
	if err := a.Initialize(ctx); err != nil {
		p.mu.Lock()
		p.total[id]--
		p.inUse[id]--
		p.failed[id] = true
		p.mu.Unlock()
		slog.Error("Agent initialization failed, removed from pool", "agent", id, "error", err)
		return nil, fmt.Errorf("initializing agent %s: %w", id, err)
	}

	singleton := IsStateful(a)
	if singleton {
		p.mu.Lock()
		p.singletons[id] = a
		p.mu.Unlock()
	}
	return &Handle{Agent: a, pool: p, id: id, singleton: singleton}, nil
}

func (p *Pool) release(id string, a Agent, singleton bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse[id] > 0 {
		p.inUse[id]--
	}
	if !singleton {
		p.idle[id] = append(p.idle[id], a)
	}
}

// Shutdown stops every constructed agent. Called once at process exit.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	var all []Agent
	for _, agents := range p.idle {
		all = append(all, agents...)
	}
	for _, a := range p.singletons {
		all = append(all, a)
	}
	p.idle = make(map[string][]Agent)
	p.singletons = make(map[string]Agent)
	p.mu.Unlock()

	for _, a := range all {
		if err := a.Shutdown(ctx); err != nil {
			slog.Warn("Agent shutdown error", "agent", a.ID(), "error", err)
		}
	}
}
