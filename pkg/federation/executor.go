package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/registry"
	"github.com/cidadao-ai/vigia/pkg/resilience"
	"golang.org/x/sync/errgroup"
)

// ErrAllSourcesUnavailable is returned when every eligible source is
// behind an open breaker, the only condition under which a federated
// fetch fails outright. "No data" is a valid (successful) answer.
var ErrAllSourcesUnavailable = errors.New("all_sources_unavailable")

// ErrNoSources is returned when the registry resolves zero sources for
// the capability. The planner should have prevented this.
var ErrNoSources = errors.New("no sources advertise capability")

// Config tunes the executor.
type Config struct {
	// FetchTimeout bounds a single source fetch (default 10s).
	FetchTimeout time.Duration
	Retry        resilience.RetryConfig
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 10 * time.Second,
		Retry:        resilience.DefaultRetryConfig(),
	}
}

// Executor federates fetches across registry sources.
type Executor struct {
	reg     *registry.Registry
	fetcher Fetcher
	cfg     Config
}

// NewExecutor builds a federation executor over the registry.
func NewExecutor(reg *registry.Registry, fetcher Fetcher, cfg Config) *Executor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Executor{reg: reg, fetcher: fetcher, cfg: cfg}
}

// Execute runs one federated fetch. The deadline bounds the whole
// operation; sources still in flight when it expires are cancelled and
// recorded as missing.
func (e *Executor) Execute(ctx context.Context, cap models.Capability, filters models.Filters, strategy models.FetchStrategy, deadline time.Duration) (*models.FederatedResult, error) {
	sources := e.reg.Resolve(cap, registry.ResolveFilters{
		Region: filters.Region,
		Family: registry.SourceFamily(filters.Family),
	})
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSources, cap)
	}

	if deadline <= 0 {
		deadline = e.cfg.FetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	log := slog.With("capability", cap, "strategy", strategy, "sources", len(sources))
	start := time.Now()

	var res *models.FederatedResult
	var err error
	switch strategy {
	case models.StrategyFallback:
		res, err = e.runFallback(ctx, sources, cap, filters)
	case models.StrategyFastest:
		res, err = e.runFastest(ctx, sources, cap, filters)
	case models.StrategyParallel:
		res, err = e.runFanout(ctx, sources, cap, filters, false)
	default: // aggregate
		res, err = e.runFanout(ctx, sources, cap, filters, true)
	}
	if err != nil {
		return nil, err
	}

	res.Strategy = strategy
	e.annotate(res)

	if allCircuitOpen(res.Outcomes) {
		return nil, ErrAllSourcesUnavailable
	}

	log.Info("Federated fetch complete",
		"records", len(res.Records),
		"duplicates", res.Duplicates,
		"partial", res.Partial,
		"elapsed", time.Since(start))
	return res, nil
}

// fetchOne performs a single breaker-gated, retry-wrapped source fetch
// and classifies the outcome. It also reports the outcome to the
// registry so health state follows real traffic.
func (e *Executor) fetchOne(ctx context.Context, src registry.Source, cap models.Capability, filters models.Filters) models.SourceResult {
	started := time.Now()
	result := models.SourceResult{SourceID: src.ID}

	breaker := e.reg.Breaker(src.ID)
	var records []models.DataRecord
	err := resilience.GuardedCall(ctx, breaker, e.cfg.Retry, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
		var ferr error
		records, ferr = e.fetcher.Fetch(fetchCtx, src, cap, filters)
		return ferr
	})
	result.Elapsed = time.Since(started)

	switch {
	case err == nil:
		result.Outcome = models.OutcomeOK
		result.Records = records
	case errors.Is(err, resilience.ErrCircuitOpen):
		result.Outcome = models.OutcomeCircuitOpen
		result.Error = err.Error()
	case errors.Is(err, context.Canceled):
		result.Outcome = models.OutcomeTransientFailure
		result.Cancelled = true
		result.Error = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		result.Outcome = models.OutcomeTimeout
		result.Error = err.Error()
	default:
		switch resilience.Classify(err) {
		case resilience.ClassPermanent, resilience.ClassAuth:
			result.Outcome = models.OutcomePermanentFailure
		case resilience.ClassTimeout:
			result.Outcome = models.OutcomeTimeout
		default:
			result.Outcome = models.OutcomeTransientFailure
		}
		result.Error = err.Error()
	}
	return result
}

// runFallback tries sources in resolved order, stopping at the first
// success.
func (e *Executor) runFallback(ctx context.Context, sources []registry.Source, cap models.Capability, filters models.Filters) (*models.FederatedResult, error) {
	res := newResult()
	for _, src := range sources {
		sr := e.fetchOne(ctx, src, cap, filters)
		res.Outcomes[src.ID] = sr
		if sr.Outcome == models.OutcomeOK {
			res.Records = sr.Records
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			break
		}
	}
	return res, nil
}

// runFastest starts all sources concurrently and keeps the first
// successful response, cancelling the rest. Cancelled peers still count
// in telemetry as transient outcomes with Cancelled set.
func (e *Executor) runFastest(ctx context.Context, sources []registry.Source, cap models.Capability, filters models.Filters) (*models.FederatedResult, error) {
	raceCtx, cancelPeers := context.WithCancel(ctx)
	defer cancelPeers()

	type winner struct {
		sr models.SourceResult
	}
	results := make(chan models.SourceResult, len(sources))

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src registry.Source) {
			defer wg.Done()
			results <- e.fetchOne(raceCtx, src, cap, filters)
		}(src)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	res := newResult()
	var won *winner
	for sr := range results {
		res.Outcomes[sr.SourceID] = sr
		if won == nil && sr.Outcome == models.OutcomeOK {
			won = &winner{sr: sr}
			res.Records = sr.Records
			cancelPeers()
		}
	}
	return res, nil
}

// runFanout starts all sources concurrently and waits for all of them
// (or the deadline). With merge set, records are deduplicated into a
// single list; otherwise per-source grouping is preserved.
func (e *Executor) runFanout(ctx context.Context, sources []registry.Source, cap models.Capability, filters models.Filters, merge bool) (*models.FederatedResult, error) {
	res := newResult()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			sr := e.fetchOne(gctx, src, cap, filters)
			mu.Lock()
			res.Outcomes[src.ID] = sr
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only observes ctx expiration
	// through the per-fetch outcomes.
	_ = g.Wait()

	if merge {
		priorities := make(map[string]int, len(sources))
		for _, src := range sources {
			priorities[src.ID] = src.Priority
		}
		res.Records, res.Provenance, res.Duplicates = Dedupe(res.Outcomes, priorities)
	} else {
		res.BySource = make(map[string][]models.DataRecord)
		for id, sr := range res.Outcomes {
			if sr.Outcome == models.OutcomeOK {
				res.BySource[id] = sr.Records
				res.Records = append(res.Records, sr.Records...)
			}
		}
	}
	return res, nil
}

// annotate fills the partial-result metadata: sources that did not
// deliver a terminal OK outcome are listed as missing.
func (e *Executor) annotate(res *models.FederatedResult) {
	for id, sr := range res.Outcomes {
		if sr.Outcome != models.OutcomeOK {
			res.MissingSources = append(res.MissingSources, id)
		}
	}
	sort.Strings(res.MissingSources)
	// Partial means some source succeeded while others did not.
	res.Partial = len(res.MissingSources) > 0 && len(res.MissingSources) < len(res.Outcomes)
}

func newResult() *models.FederatedResult {
	return &models.FederatedResult{
		Outcomes: make(map[string]models.SourceResult),
	}
}

// allCircuitOpen reports whether every resolved source was rejected by
// its breaker: the fetch never reached the network at all.
func allCircuitOpen(outcomes map[string]models.SourceResult) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, sr := range outcomes {
		if sr.Outcome != models.OutcomeCircuitOpen {
			return false
		}
	}
	return true
}
