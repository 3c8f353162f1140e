// Package router resolves model names to completion providers and runs
// requests with balancing, circuit breaking, and failover.
package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/completion"
	"github.com/haasonsaas/parley/internal/observability"
)

// Selection is a resolved provider and model for one request.
type Selection struct {
	Provider completion.Provider
	Model    string

	// Substituted is true when the requested model was unavailable and a
	// different model was chosen in its place.
	Substituted bool
}

// Config configures the router.
type Config struct {
	// Balancing is round-robin, random, or weighted.
	Balancing string

	// FailoverEnabled allows retrying a request on another provider when
	// the first fails with a retryable error.
	FailoverEnabled bool

	// BreakerThreshold is consecutive failures before a provider is
	// skipped. Default 3.
	BreakerThreshold int

	// BreakerCooldown is how long a tripped provider is skipped.
	// Default 30s.
	BreakerCooldown time.Duration
}

type entry struct {
	provider completion.Provider
	prefixes []string
	weight   int
}

// Router routes completion requests across registered providers.
type Router struct {
	mu      sync.RWMutex
	entries []entry

	balancer balancer
	breaker  *breaker
	failover bool
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New creates an empty router.
func New(cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Router{
		balancer: newBalancer(cfg.Balancing),
		breaker:  newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		failover: cfg.FailoverEnabled,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register adds a provider. Prefixes route model names (e.g. "claude-")
// to this provider; weight feeds the weighted balancer.
func (r *Router) Register(p completion.Provider, prefixes []string, weight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{provider: p, prefixes: prefixes, weight: weight})
}

// Providers returns the registered providers in registration order.
func (r *Router) Providers() []completion.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]completion.Provider, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.provider
	}
	return out
}

// Resolve picks a provider and model for the requested model name.
// Resolution order: exact model match, then prefix match, then any
// usable provider with its default model (marking the selection
// substituted). An empty model name goes straight to balancing.
// Providers whose circuit is open or whose health check fails are
// skipped.
func (r *Router) Resolve(ctx context.Context, model string) (*Selection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil, apperr.New(apperr.KindProviderUnavailable, "NO_PROVIDERS", "no completion providers registered")
	}

	if model != "" {
		for _, e := range r.entries {
			for _, m := range e.provider.SupportedModels() {
				if m == model && r.usable(ctx, e.provider) {
					return &Selection{Provider: e.provider, Model: model}, nil
				}
			}
		}
		for _, e := range r.entries {
			for _, prefix := range e.prefixes {
				if strings.HasPrefix(model, prefix) && r.usable(ctx, e.provider) {
					return &Selection{Provider: e.provider, Model: model}, nil
				}
			}
		}
	}

	candidates, weights := r.availableLocked(ctx)
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.KindProviderUnavailable, "ALL_PROVIDERS_DOWN", "no provider available")
	}
	idx := r.balancer.pick(candidates, weights)
	chosen := r.entries[idx].provider
	return &Selection{
		Provider:    chosen,
		Model:       chosen.DefaultModel(),
		Substituted: model != "",
	}, nil
}

// usable combines the reactive circuit breaker with the provider's own
// liveness check. The breaker goes first; it is free, the check may not
// be.
func (r *Router) usable(ctx context.Context, p completion.Provider) bool {
	return r.breaker.available(p.Name()) && p.IsHealthy(ctx)
}

// availableLocked returns indexes of usable providers. Must hold at
// least a read lock.
func (r *Router) availableLocked(ctx context.Context) ([]int, []int) {
	weights := make([]int, len(r.entries))
	var candidates []int
	for i, e := range r.entries {
		weights[i] = e.weight
		if r.usable(ctx, e.provider) {
			candidates = append(candidates, i)
		}
	}
	return candidates, weights
}

// Complete resolves and runs req, failing over to other providers on
// retryable errors when enabled. The returned selection names the
// provider and model that actually served the request.
func (r *Router) Complete(ctx context.Context, req *completion.Request) (*completion.Result, *Selection, error) {
	var result *completion.Result
	sel, err := r.run(ctx, req, func(ctx context.Context, p completion.Provider, rq *completion.Request) error {
		res, err := p.Complete(ctx, rq)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, sel, nil
}

// StreamComplete is Complete for streaming sinks. Failover only happens
// before the first chunk reaches the sink; after that the stream is
// committed to its provider.
func (r *Router) StreamComplete(ctx context.Context, req *completion.Request, sink completion.Sink) (*Selection, error) {
	guard := &guardedSink{inner: sink}
	sel, err := r.run(ctx, req, func(ctx context.Context, p completion.Provider, rq *completion.Request) error {
		guard.reset()
		err := p.StreamComplete(ctx, rq, guard)
		if err != nil && guard.started() {
			// Chunks already went out; surface the error instead of
			// replaying the turn on another provider.
			guard.flushError(err)
			return &committedError{err: err}
		}
		return err
	})
	if err != nil {
		var committed *committedError
		if errors.As(err, &committed) {
			return nil, committed.err
		}
		guard.flushError(err)
		return nil, err
	}
	return sel, nil
}

// run executes attempt against resolved providers until one succeeds.
func (r *Router) run(ctx context.Context, req *completion.Request,
	attempt func(context.Context, completion.Provider, *completion.Request) error) (*Selection, error) {

	sel, err := r.Resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	tried := map[string]bool{}
	var lastErr error
	for {
		tried[sel.Provider.Name()] = true
		rq := *req
		rq.Model = sel.Model

		err := attempt(ctx, sel.Provider, &rq)
		if err == nil {
			r.breaker.recordSuccess(sel.Provider.Name())
			return sel, nil
		}

		var committed *committedError
		if errors.As(err, &committed) {
			r.breaker.recordFailure(sel.Provider.Name())
			return nil, err
		}

		lastErr = err
		r.breaker.recordFailure(sel.Provider.Name())
		r.logger.Warn(ctx, "provider attempt failed",
			"provider", sel.Provider.Name(), "model", rq.Model, "error", err)

		if !r.failover || !apperr.Retryable(err) || ctx.Err() != nil {
			return nil, err
		}

		next, ok := r.nextProvider(ctx, tried)
		if !ok {
			return nil, lastErr
		}
		if r.metrics != nil {
			r.metrics.ProviderFailovers.WithLabelValues(sel.Provider.Name(), next.Provider.Name()).Inc()
		}
		next.Substituted = sel.Substituted || (req.Model != "" && next.Model != req.Model)
		sel = next
	}
}

// nextProvider picks an untried usable provider for failover.
func (r *Router) nextProvider(ctx context.Context, tried map[string]bool) (*Selection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if tried[e.provider.Name()] || !r.usable(ctx, e.provider) {
			continue
		}
		return &Selection{Provider: e.provider, Model: e.provider.DefaultModel()}, true
	}
	return nil, false
}

// committedError marks a stream failure that must not trigger failover.
type committedError struct{ err error }

func (e *committedError) Error() string { return e.err.Error() }
func (e *committedError) Unwrap() error { return e.err }

// guardedSink tracks whether chunks were delivered and defers terminal
// error delivery to the router, which may still fail over.
type guardedSink struct {
	mu      sync.Mutex
	inner   completion.Sink
	chunked bool
	done    bool
}

func (s *guardedSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunked = false
}

func (s *guardedSink) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunked
}

func (s *guardedSink) OnChunk(text string) {
	s.mu.Lock()
	s.chunked = true
	s.mu.Unlock()
	s.inner.OnChunk(text)
}

func (s *guardedSink) OnComplete(result *completion.Result) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	s.inner.OnComplete(result)
}

// OnError is swallowed here; the router decides whether the turn fails
// over or the error reaches the caller via flushError.
func (s *guardedSink) OnError(error) {}

func (s *guardedSink) flushError(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	s.inner.OnError(err)
}
