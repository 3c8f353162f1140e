package router

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/completion"
)

func newTestRouter(cfg Config) *Router {
	return New(cfg, nil, nil)
}

func stub(name, model, text string) *completion.StubProvider {
	p := completion.NewStubProvider(text)
	p.ProviderName = name
	p.Model = model
	return p
}

func TestResolveExactModel(t *testing.T) {
	r := newTestRouter(Config{})
	r.Register(stub("anthropic", "claude-sonnet-4-20250514", "a"), []string{"claude-"}, 1)
	r.Register(stub("openai", "gpt-4o", "b"), []string{"gpt-"}, 1)

	sel, err := r.Resolve(context.Background(), "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Provider.Name() != "openai" || sel.Substituted {
		t.Errorf("sel = %+v", sel)
	}
}

func TestResolvePrefix(t *testing.T) {
	r := newTestRouter(Config{})
	r.Register(stub("anthropic", "claude-sonnet-4-20250514", "a"), []string{"claude-"}, 1)

	sel, err := r.Resolve(context.Background(), "claude-opus-4-20250514")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Provider.Name() != "anthropic" {
		t.Errorf("provider = %q", sel.Provider.Name())
	}
	if sel.Model != "claude-opus-4-20250514" {
		t.Errorf("model = %q", sel.Model)
	}
	if sel.Substituted {
		t.Error("prefix routing is not substitution")
	}
}

func TestResolveSubstitutesUnknownModel(t *testing.T) {
	r := newTestRouter(Config{})
	r.Register(stub("anthropic", "claude-sonnet-4-20250514", "a"), []string{"claude-"}, 1)

	sel, err := r.Resolve(context.Background(), "mystery-model-9000")
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Substituted {
		t.Error("unknown model must be marked substituted")
	}
	if sel.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q", sel.Model)
	}
}

func TestResolveNoProviders(t *testing.T) {
	r := newTestRouter(Config{})
	_, err := r.Resolve(context.Background(), "gpt-4o")
	if !apperr.IsKind(err, apperr.KindProviderUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestResolveSkipsUnhealthyProvider(t *testing.T) {
	sick := stub("sick", "m-sick", "a")
	sick.Healthy = false
	well := stub("well", "m-well", "b")

	r := newTestRouter(Config{})
	r.Register(sick, nil, 1)
	r.Register(well, nil, 1)

	// The exact match fails its health check; resolution substitutes.
	sel, err := r.Resolve(context.Background(), "m-sick")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Provider.Name() != "well" || !sel.Substituted {
		t.Errorf("sel = %+v", sel)
	}

	well.Healthy = false
	if _, err := r.Resolve(context.Background(), ""); !apperr.IsKind(err, apperr.KindProviderUnavailable) {
		t.Errorf("all unhealthy resolve = %v", err)
	}
}

func TestFailoverSkipsUnhealthyBackup(t *testing.T) {
	bad := stub("bad", "m-bad", "")
	bad.Err = apperr.New(apperr.KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "down")
	sick := stub("sick", "m-sick", "never served")
	sick.Healthy = false
	good := stub("good", "m-good", "served by healthy backup")

	r := newTestRouter(Config{FailoverEnabled: true})
	r.Register(bad, nil, 1)
	r.Register(sick, nil, 1)
	r.Register(good, nil, 1)

	res, sel, err := r.Complete(context.Background(), &completion.Request{Model: "m-bad"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if sel.Provider.Name() != "good" || res.Text != "served by healthy backup" {
		t.Errorf("sel = %+v text = %q", sel, res.Text)
	}
	if len(sick.Requests) != 0 {
		t.Error("failover must not route to a provider failing its health check")
	}
}

func TestRoundRobinSpreadsLoad(t *testing.T) {
	r := newTestRouter(Config{Balancing: "round-robin"})
	r.Register(stub("p1", "m1", "a"), nil, 1)
	r.Register(stub("p2", "m2", "b"), nil, 1)

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		sel, err := r.Resolve(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		seen[sel.Provider.Name()]++
	}
	if seen["p1"] != 5 || seen["p2"] != 5 {
		t.Errorf("distribution = %v", seen)
	}
}

func TestCompleteFailover(t *testing.T) {
	bad := stub("bad", "m-bad", "")
	bad.Err = apperr.New(apperr.KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "down")
	good := stub("good", "m-good", "served by backup")

	r := newTestRouter(Config{FailoverEnabled: true})
	r.Register(bad, nil, 1)
	r.Register(good, nil, 1)

	res, sel, err := r.Complete(context.Background(), &completion.Request{Model: "m-bad"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Text != "served by backup" {
		t.Errorf("text = %q", res.Text)
	}
	if sel.Provider.Name() != "good" {
		t.Errorf("served by %q", sel.Provider.Name())
	}
	if !sel.Substituted {
		t.Error("failover to another model must mark substitution")
	}
}

func TestCompleteNoFailoverWhenDisabled(t *testing.T) {
	bad := stub("bad", "m-bad", "")
	bad.Err = apperr.New(apperr.KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "down")
	good := stub("good", "m-good", "never reached")

	r := newTestRouter(Config{FailoverEnabled: false})
	r.Register(bad, nil, 1)
	r.Register(good, nil, 1)

	_, _, err := r.Complete(context.Background(), &completion.Request{Model: "m-bad"})
	if !apperr.IsKind(err, apperr.KindProviderUnavailable) {
		t.Errorf("err = %v", err)
	}
	if len(good.Requests) != 0 {
		t.Error("disabled failover must not touch the second provider")
	}
}

func TestCompleteNoFailoverOnNonRetryable(t *testing.T) {
	bad := stub("bad", "m-bad", "")
	bad.Err = apperr.New(apperr.KindValidation, "BAD_REQUEST", "malformed")
	good := stub("good", "m-good", "never reached")

	r := newTestRouter(Config{FailoverEnabled: true})
	r.Register(bad, nil, 1)
	r.Register(good, nil, 1)

	_, _, err := r.Complete(context.Background(), &completion.Request{Model: "m-bad"})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("err = %v", err)
	}
	if len(good.Requests) != 0 {
		t.Error("validation errors must not fail over")
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := newBreaker(3, time.Minute)
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }

	if !b.available("p") {
		t.Fatal("fresh provider should be available")
	}
	b.recordFailure("p")
	b.recordFailure("p")
	if !b.available("p") {
		t.Fatal("under threshold should stay available")
	}
	b.recordFailure("p")
	if b.available("p") {
		t.Fatal("circuit should be open after threshold failures")
	}

	// Half-open after cooldown.
	now = now.Add(61 * time.Second)
	if !b.available("p") {
		t.Fatal("cooldown should allow a probe")
	}
	b.recordSuccess("p")
	now = now.Add(time.Second)
	if !b.available("p") {
		t.Fatal("success should close the circuit")
	}
}

func TestBreakerSkipsOpenProvider(t *testing.T) {
	bad := stub("bad", "m-bad", "")
	bad.Err = apperr.New(apperr.KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "down")
	good := stub("good", "m-good", "ok")

	r := newTestRouter(Config{FailoverEnabled: true, BreakerThreshold: 1})
	r.Register(bad, nil, 1)
	r.Register(good, nil, 1)

	// First call trips bad's breaker and fails over.
	if _, _, err := r.Complete(context.Background(), &completion.Request{}); err != nil {
		t.Fatal(err)
	}
	attempts := len(bad.Requests)

	// Subsequent resolutions skip the open circuit entirely.
	for i := 0; i < 3; i++ {
		sel, err := r.Resolve(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if sel.Provider.Name() != "good" {
			t.Errorf("resolved %q with open circuit", sel.Provider.Name())
		}
	}
	if len(bad.Requests) != attempts {
		t.Error("open circuit must not receive requests")
	}
}

func TestWeightedBalancerFavorsHeavy(t *testing.T) {
	b := newBalancer("weighted")
	weights := []int{9, 1}
	counts := map[int]int{}
	for i := 0; i < 2000; i++ {
		counts[b.pick([]int{0, 1}, weights)]++
	}
	if counts[0] <= counts[1] {
		t.Errorf("weighted pick counts = %v", counts)
	}
}

type streamRecord struct {
	chunks []string
	result *completion.Result
	err    error
}

func (s *streamRecord) OnChunk(text string)                  { s.chunks = append(s.chunks, text) }
func (s *streamRecord) OnComplete(r *completion.Result)      { s.result = r }
func (s *streamRecord) OnError(err error)                    { s.err = err }

func TestStreamFailoverBeforeFirstChunk(t *testing.T) {
	bad := stub("bad", "m-bad", "")
	bad.Err = apperr.New(apperr.KindProviderTimeout, "PROVIDER_TIMEOUT", "slow")
	good := stub("good", "m-good", "streamed fine")

	r := newTestRouter(Config{FailoverEnabled: true})
	r.Register(bad, nil, 1)
	r.Register(good, nil, 1)

	var sink streamRecord
	sel, err := r.StreamComplete(context.Background(), &completion.Request{}, &sink)
	if err != nil {
		t.Fatalf("StreamComplete: %v", err)
	}
	if sel.Provider.Name() != "good" {
		t.Errorf("served by %q", sel.Provider.Name())
	}
	if sink.result == nil || sink.result.Text != "streamed fine" {
		t.Errorf("result = %+v", sink.result)
	}
	if sink.err != nil {
		t.Errorf("sink saw error from the failed attempt: %v", sink.err)
	}
}

func TestStreamErrorSurfacesWhenNoBackup(t *testing.T) {
	bad := stub("bad", "m-bad", "")
	bad.Err = apperr.New(apperr.KindProviderTimeout, "PROVIDER_TIMEOUT", "slow")

	r := newTestRouter(Config{FailoverEnabled: true})
	r.Register(bad, nil, 1)

	var sink streamRecord
	_, err := r.StreamComplete(context.Background(), &completion.Request{}, &sink)
	if err == nil {
		t.Fatal("expected error")
	}
	if sink.err == nil {
		t.Error("sink must see the terminal error")
	}
	if sink.result != nil {
		t.Error("failed stream must not complete")
	}
}
